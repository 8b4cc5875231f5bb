// Package anyeval measures the error rates of trained
// models.
package anyeval

import (
	"fmt"
	"strings"

	"github.com/YYTtyy/neural-sp/anydata"
	"github.com/YYTtyy/neural-sp/anymodel"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// EditDistance computes the Levenshtein distance between
// two token sequences.
func EditDistance[T comparable](ref, hyp []T) int {
	row := make([]int, len(hyp)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(ref); i++ {
		diag := row[0]
		row[0] = i
		for j := 1; j <= len(hyp); j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			next := min(row[j]+1, row[j-1]+1, diag+cost)
			diag = row[j]
			row[j] = next
		}
	}
	return row[len(hyp)]
}

// An ErrorCount accumulates edit distances and reference
// lengths.
type ErrorCount struct {
	Errors int
	Total  int
}

// Add counts the errors of one hypothesis.
func Add[T comparable](e *ErrorCount, ref, hyp []T) {
	e.Errors += EditDistance(ref, hyp)
	e.Total += len(ref)
}

// Rate returns the error rate, or 0 if nothing has been
// counted.
func (e *ErrorCount) Rate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Errors) / float64(e.Total)
}

// Rates are the error rates of one task.
type Rates struct {
	// CharLevel is set for character labels, which get a
	// CER on top of the WER.
	CharLevel bool

	CER ErrorCount
	WER ErrorCount
}

// Add counts the errors of one hypothesis, given as class
// indices.
func (r *Rates) Add(v *anydata.Vocab, ref, hyp []int) {
	if !v.IsCharLevel() {
		Add(&r.WER, v.Idx2Token(ref), v.Idx2Token(hyp))
		return
	}
	r.CharLevel = true
	refText, hypText := v.Text(ref), v.Text(hyp)
	Add(&r.CER, chars(refText), chars(hypText))
	Add(&r.WER, words(refText), words(hypText))
}

func chars(text string) []rune {
	return []rune(strings.ReplaceAll(text, anydata.WordSeparator, ""))
}

func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return string(r) == anydata.WordSeparator
	})
}

// Options controls an evaluation.
type Options struct {
	Decode    anymodel.DecodeOptions
	BatchSize int

	// Progress shows a progress bar on stderr.
	Progress bool
}

// A Result holds the error rates for one split.
type Result struct {
	Split      string
	Utterances int

	Main Rates

	// Sub is nil for models without a sub task.
	Sub *Rates
}

// Evaluate decodes every utterance of a Dataset and
// measures the error rates.
func Evaluate(m *anymodel.Model, data *anydata.Dataset, split string,
	opts Options) (*Result, error) {
	if data.Len() == 0 {
		return nil, errors.Errorf("evaluate %s: empty dataset", split)
	}
	m.SetTraining(false)

	res := &Result{Split: split}
	vocab, subVocab := data.Config.Vocab, data.Config.SubVocab
	if subVocab != nil && m.Type.Hierarchical() {
		res.Sub = &Rates{}
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.NewOptions(data.Len(),
			progressbar.OptionSetDescription(split),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("utts"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII))
	}

	it := data.Batches(opts.BatchSize)
	for {
		batch, isNewEpoch, err := it.Next()
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate %s", split)
		}
		hyps := m.Decode(batch.Inputs, opts.Decode)
		for i, name := range batch.Names {
			res.Main.Add(vocab, batch.Labels[i], hyps.Labels[i])
			if res.Sub != nil {
				res.Sub.Add(subVocab, batch.SubLabels[i], hyps.SubLabels[i])
			}
			logrus.WithFields(logrus.Fields{
				"utt": name,
				"ref": vocab.Text(batch.Labels[i]),
				"hyp": vocab.Text(hyps.Labels[i]),
			}).Debug("decoded")
		}
		res.Utterances += batch.Size()
		if bar != nil {
			bar.Add(batch.Size())
		}
		if isNewEpoch {
			break
		}
	}
	if bar != nil {
		bar.Finish()
	}
	return res, nil
}

// Summary renders the error rates as lines in the form
// "CER (split): x %".
func (r *Result) Summary() string {
	var lines []string
	add := func(name string, rates *Rates) {
		if rates.CharLevel {
			lines = append(lines, fmt.Sprintf("  %s (%s): %f %%", "CER"+name, r.Split,
				rates.CER.Rate()*100))
		}
		lines = append(lines, fmt.Sprintf("  %s (%s): %f %%", "WER"+name, r.Split,
			rates.WER.Rate()*100))
	}
	add("", &r.Main)
	if r.Sub != nil {
		add(" sub", r.Sub)
	}
	return strings.Join(lines, "\n")
}

// Table renders a table with one row per split.
func Table(results []*Result) string {
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	headerStyle := lipgloss.NewStyle().Padding(0, 1).Bold(true).Reverse(true)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	hasSub := false
	for _, r := range results {
		hasSub = hasSub || r.Sub != nil
	}
	headers := []string{"Split", "Utterances", "CER", "WER"}
	if hasSub {
		headers = append(headers, "CER (sub)", "WER (sub)")
	}
	table.Headers(headers...)
	for _, r := range results {
		row := append([]string{r.Split, fmt.Sprint(r.Utterances)}, r.Main.cells()...)
		if r.Sub != nil {
			row = append(row, r.Sub.cells()...)
		} else if hasSub {
			row = append(row, "-", "-")
		}
		table.Row(row...)
	}
	return table.String()
}

func (r *Rates) cells() []string {
	cer := "-"
	if r.CharLevel {
		cer = percent(r.CER.Rate())
	}
	return []string{cer, percent(r.WER.Rate())}
}

func percent(x float64) string {
	return fmt.Sprintf("%.2f%%", x*100)
}
