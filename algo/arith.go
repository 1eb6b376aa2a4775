package algo

import (
	"context"

	"github.com/kbukum/flowkit/config"
)

// GroupArith holds the integer arithmetic algorithms.
const GroupArith = "arith"

var arithAttrs = Attributes{Module: "flowkit/algo", Version: "1.0.0", Organization: "flowkit"}

func attrs(description string) Attributes {
	a := arithAttrs
	a.Description = description
	return a
}

// RegisterArith registers the arith group: scale, offset and square.
func RegisterArith(r *Registry) {
	RegisterComputer(r, GroupArith, "scale", attrs("multiplies by the integer 'factor'"),
		func() Computer[int, int] { return &scale{} })
	RegisterComputer(r, GroupArith, "offset", attrs("adds the integer 'amount'"),
		func() Computer[int, int] { return &offset{} })
	RegisterComputer(r, GroupArith, "square", attrs("squares its input"),
		func() Computer[int, int] { return square{} })
}

type scale struct{ factor int }

func (*scale) Name() string { return "scale" }

func (s *scale) Configure(b *config.Block) error {
	f, err := b.GetIntOr("factor", 1)
	s.factor = f
	return err
}

func (s *scale) Compute(_ context.Context, in int) (int, error) { return in * s.factor, nil }

type offset struct{ amount int }

func (*offset) Name() string { return "offset" }

func (o *offset) Configure(b *config.Block) error {
	a, err := b.GetIntOr("amount", 0)
	o.amount = a
	return err
}

func (o *offset) Compute(_ context.Context, in int) (int, error) { return in + o.amount, nil }

type square struct{}

func (square) Name() string                  { return "square" }
func (square) Configure(*config.Block) error { return nil }

func (square) Compute(_ context.Context, in int) (int, error) { return in * in, nil }
