package tool

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"campaignflow/internal/domain"
	"campaignflow/internal/infra/logger"
)

func upperTool() Tool {
	return Func{
		ToolName: "upper",
		Desc:     "uppercases a string",
		Fn: func(_ context.Context, input any) (any, error) {
			s, ok := input.(string)
			if !ok {
				return nil, fmt.Errorf("want string, got %T", input)
			}
			out := make([]rune, 0, len(s))
			for _, r := range s {
				if r >= 'a' && r <= 'z' {
					r -= 'a' - 'A'
				}
				out = append(out, r)
			}
			return string(out), nil
		},
	}
}

func TestRegistryInvoke(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	if err := reg.Register(upperTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := reg.Invoke(context.Background(), "upper", "hello")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != "HELLO" {
		t.Fatalf("Invoke = %v, want HELLO", got)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	if err := reg.Register(upperTool()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(upperTool()); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestRegistryInvokeUnknown(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	if _, err := reg.Invoke(context.Background(), "ghost", nil); !errors.Is(err, domain.ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		tool := Func{ToolName: name, Fn: func(_ context.Context, input any) (any, error) { return input, nil }}
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	if got, want := reg.List(), []string{"alpha", "mid", "zeta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
}

func TestRegistryToolErrorPropagates(t *testing.T) {
	reg := NewRegistry(logger.Discard())
	boom := errors.New("boom")
	err := reg.Register(Func{ToolName: "bad", Fn: func(context.Context, any) (any, error) {
		return nil, boom
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := reg.Invoke(context.Background(), "bad", nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the tool's error unchanged", err)
	}
}
