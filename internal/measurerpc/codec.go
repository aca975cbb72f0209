package measurerpc

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/measulor/internal/measurement"
)

// Measurements travel as a ListValue of {name, value} structs; a Struct would
// lose their order.

func encodeSet(set measurement.Set) (*structpb.ListValue, error) {
	values := make([]*structpb.Value, 0, len(set))
	for _, e := range set {
		st, err := structpb.NewStruct(map[string]interface{}{
			"name":  e.Name,
			"value": e.Value,
		})
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", e.Name, err)
		}
		values = append(values, structpb.NewStructValue(st))
	}
	return &structpb.ListValue{Values: values}, nil
}

func decodeSet(list *structpb.ListValue) (measurement.Set, error) {
	if list == nil {
		return nil, errors.New("empty response")
	}
	set := make(measurement.Set, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		st := v.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("entry %d is not a struct", i)
		}
		name := st.GetFields()["name"].GetStringValue()
		if name == "" {
			return nil, fmt.Errorf("entry %d has no name", i)
		}
		number, ok := st.GetFields()["value"].GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("entry %q has no numeric value", name)
		}
		set = set.Add(name, number.NumberValue)
	}
	return set, nil
}
