package neuralsp

import (
	"reflect"
	"testing"

	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
)

func TestActivationSerialize(t *testing.T) {
	acts := []Activation{Identity, Tanh, LogSoftmax, Sigmoid, ReLU, HardTanh, SELU}
	var ser []interface{}
	for _, a := range acts {
		ser = append(ser, a)
	}
	data, err := serializer.SerializeAny(ser...)
	if err != nil {
		t.Fatal(err)
	}
	decoded := make([]Activation, len(acts))
	var ptrs []interface{}
	for i := range decoded {
		ptrs = append(ptrs, &decoded[i])
	}
	if err := serializer.DeserializeAny(data, ptrs...); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(acts, decoded) {
		t.Errorf("expected %v but got %v", acts, decoded)
	}
}

func TestLinearSerialize(t *testing.T) {
	l := NewLinear(anyvec32.DefaultCreator{}, 7, 5, 0.1)
	data, err := serializer.SerializeAny(l)
	if err != nil {
		t.Fatal(err)
	}
	var newL *Linear
	if err := serializer.DeserializeAny(data, &newL); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(l, newL) {
		t.Fatal("incorrect result")
	}
}

func TestNetSerialize(t *testing.T) {
	net := Net{
		NewLinear(anyvec32.DefaultCreator{}, 3, 2, 0),
		&Dropout{Rate: 0.25},
		Tanh,
	}
	data, err := serializer.SerializeAny(net)
	if err != nil {
		t.Fatal(err)
	}
	var newNet Net
	if err := serializer.DeserializeAny(data, &newNet); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(net, newNet) {
		t.Fatal("incorrect result")
	}
}
