package anymodel

import (
	"fmt"
	"os"

	"github.com/YYTtyy/neural-sp/anyattn"
	"github.com/YYTtyy/neural-sp/anyconv"
	"github.com/YYTtyy/neural-sp/anyenc"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the name of the configuration file stored
// in every model directory.
const ConfigFile = "config.yml"

// Params holds the hyper-parameters found under the
// "param" key of a model's config.yml.
type Params struct {
	ModelType string `yaml:"model_type"`

	// Data.
	InputChannel   int    `yaml:"input_channel"`
	UseDelta       bool   `yaml:"use_delta"`
	UseDoubleDelta bool   `yaml:"use_double_delta"`
	DataSize       string `yaml:"data_size"`
	LabelType      string `yaml:"label_type"`
	LabelTypeSub   string `yaml:"label_type_sub"`
	NumClasses     int    `yaml:"num_classes"`
	NumClassesSub  int    `yaml:"num_classes_sub"`
	Splice         int    `yaml:"splice"`
	NumStack       int    `yaml:"num_stack"`
	NumSkip        int    `yaml:"num_skip"`
	SortUtt        bool   `yaml:"sort_utt"`

	// Encoder.
	EncoderType          string  `yaml:"encoder_type"`
	EncoderBidirectional bool    `yaml:"encoder_bidirectional"`
	EncoderNumUnits      int     `yaml:"encoder_num_units"`
	EncoderNumProj       int     `yaml:"encoder_num_proj"`
	EncoderNumLayers     int     `yaml:"encoder_num_layers"`
	EncoderNumLayersSub  int     `yaml:"encoder_num_layers_sub"`
	EncoderResidual      bool    `yaml:"encoder_residual"`
	EncoderDenseResidual bool    `yaml:"encoder_dense_residual"`
	MergeBidirectional   bool    `yaml:"merge_bidirectional"`
	DropoutEncoder       float64 `yaml:"dropout_encoder"`
	ParameterInit        float64 `yaml:"parameter_init"`

	ConvChannels    []int   `yaml:"conv_channels"`
	ConvKernelSizes [][]int `yaml:"conv_kernel_sizes"`
	ConvStrides     [][]int `yaml:"conv_strides"`
	Poolings        [][]int `yaml:"poolings"`
	Activation      string  `yaml:"activation"`
	BatchNorm       bool    `yaml:"batch_norm"`

	// Decoders.
	DecoderType      string  `yaml:"decoder_type"`
	DecoderNumUnits  int     `yaml:"decoder_num_units"`
	EmbeddingDim     int     `yaml:"embedding_dim"`
	EmbeddingDimSub  int     `yaml:"embedding_dim_sub"`
	AttentionDim     int     `yaml:"attention_dim"`
	SharpeningFactor float64 `yaml:"sharpening_factor"`
	MainLossWeight   float64 `yaml:"main_loss_weight"`

	// Training.
	Optimizer       string  `yaml:"optimizer"`
	LearningRate    float64 `yaml:"learning_rate"`
	NumEpoch        int     `yaml:"num_epoch"`
	BatchSize       int     `yaml:"batch_size"`
	ClipGradNorm    float64 `yaml:"clip_grad_norm"`
	WeightDecay     float64 `yaml:"weight_decay"`
	DecayStartEpoch int     `yaml:"decay_start_epoch"`
	DecayRate       float64 `yaml:"decay_rate"`
}

type configFile struct {
	Param *Params `yaml:"param"`
}

// LoadParams reads the "param" block of a config file and
// fills in defaults.
func LoadParams(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load params")
	}
	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "load params: parse %s", path)
	}
	if cfg.Param == nil {
		return nil, errors.Errorf("load params: %s has no param block", path)
	}
	cfg.Param.SetDefaults()
	return cfg.Param, nil
}

// SaveParams writes the parameters as a config file.
func SaveParams(path string, p *Params) error {
	data, err := yaml.Marshal(&configFile{Param: p})
	if err != nil {
		return errors.Wrap(err, "save params")
	}
	return errors.Wrap(os.WriteFile(path, data, 0644), "save params")
}

// SetDefaults replaces unset values with their defaults.
func (p *Params) SetDefaults() {
	for _, x := range []*int{&p.Splice, &p.NumStack, &p.NumSkip} {
		if *x == 0 {
			*x = 1
		}
	}
	if p.EncoderType == "" {
		p.EncoderType = "lstm"
	}
	// Hierarchical models must name their sub layer.
	if typ, err := ParseType(p.ModelType); err == nil && !typ.Hierarchical() &&
		p.EncoderNumLayersSub == 0 {
		p.EncoderNumLayersSub = p.EncoderNumLayers
	}
	if p.DecoderType == "" {
		p.DecoderType = "lstm"
	}
	if p.DecoderNumUnits == 0 {
		p.DecoderNumUnits = p.EncoderNumUnits
	}
	if p.EmbeddingDimSub == 0 {
		p.EmbeddingDimSub = p.EmbeddingDim
	}
	if p.AttentionDim == 0 {
		p.AttentionDim = p.DecoderNumUnits
	}
	if p.SharpeningFactor == 0 {
		p.SharpeningFactor = 1
	}
	if p.MainLossWeight == 0 {
		p.MainLossWeight = 1
	}
	if p.Optimizer == "" {
		p.Optimizer = "adam"
	}
	if p.Activation == "" {
		p.Activation = "relu"
	}
}

// FeatureSize returns the width of a frame after deltas
// are appended, before splicing and stacking.
func (p *Params) FeatureSize() int {
	return p.InputChannel * p.FeatureChannels()
}

// FeatureChannels returns 1, 2, or 3 depending on which
// deltas are used.
func (p *Params) FeatureChannels() int {
	res := 1
	if p.UseDelta {
		res++
	}
	if p.UseDoubleDelta {
		res++
	}
	return res
}

// EncoderConfig builds the encoder configuration.
func (p *Params) EncoderConfig() (anyenc.Config, error) {
	residual, err := anyenc.ParseResidualMode(p.EncoderResidual, p.EncoderDenseResidual)
	if err != nil {
		return anyenc.Config{}, err
	}
	res := anyenc.Config{
		InputSize:          p.FeatureSize(),
		CellType:           p.EncoderType,
		Bidirectional:      p.EncoderBidirectional,
		NumUnits:           p.EncoderNumUnits,
		NumProj:            p.EncoderNumProj,
		NumLayers:          p.EncoderNumLayers,
		NumLayersSub:       p.EncoderNumLayersSub,
		Dropout:            p.DropoutEncoder,
		ParameterInit:      p.ParameterInit,
		MergeBidirectional: p.MergeBidirectional,
		NumStack:           p.NumStack,
		Splice:             p.Splice,
		Residual:           residual,
	}
	if len(p.ConvChannels) > 0 {
		res.Conv = anyconv.FrontendConfig{
			InputSize:     p.FeatureSize(),
			InputChannels: p.FeatureChannels(),
			Channels:      p.ConvChannels,
			Activation:    p.Activation,
			BatchNorm:     p.BatchNorm,
		}
		var err error
		if res.Conv.KernelSizes, err = pairs("conv_kernel_sizes", p.ConvKernelSizes); err != nil {
			return res, err
		}
		if res.Conv.Strides, err = pairs("conv_strides", p.ConvStrides); err != nil {
			return res, err
		}
		if res.Conv.Poolings, err = pairs("poolings", p.Poolings); err != nil {
			return res, err
		}
	}
	return res, nil
}

// DecoderConfig builds the configuration of the main
// (sub=false) or sub (sub=true) attention decoder.
func (p *Params) DecoderConfig(sub bool, encSize, memSize int) anyattn.Config {
	res := anyattn.Config{
		NumClasses:    p.NumClasses,
		EncoderSize:   encSize,
		MemorySize:    memSize,
		CellType:      p.DecoderType,
		NumUnits:      p.DecoderNumUnits,
		EmbeddingDim:  p.EmbeddingDim,
		AttentionDim:  p.AttentionDim,
		ParameterInit: p.ParameterInit,
		Sharpening:    p.SharpeningFactor,
	}
	if sub {
		res.NumClasses = p.NumClassesSub
		res.EmbeddingDim = p.EmbeddingDimSub
	}
	return res
}

func pairs(name string, lists [][]int) ([][2]int, error) {
	var res [][2]int
	for _, l := range lists {
		if len(l) != 2 {
			return nil, fmt.Errorf("%s: expected (time, frequency) pairs but got %v", name, l)
		}
		res = append(res, [2]int{l[0], l[1]})
	}
	return res, nil
}
