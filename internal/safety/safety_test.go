package safety_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/dipsim/internal/dynamo"
	"github.com/san-kum/dipsim/internal/safety"
)

type quadratic struct{}

func (quadratic) Energy(x dynamo.State) float64 {
	e := 0.0
	for _, v := range x {
		e += 0.5 * v * v
	}
	return e
}

var _ = Describe("Guard", func() {
	var guard safety.Guard

	BeforeEach(func() {
		guard = safety.NewGuard(safety.Bounds{
			MaxEnergy: 10,
			Components: []safety.Range{
				{Index: 0, Min: -1, Max: 1},
			},
		}, quadratic{})
	})

	It("passes a state inside every limit", func() {
		Expect(guard.Check(dynamo.State{0.5, 1})).To(Succeed())
		Expect(guard.Inspect(dynamo.State{0.5, 1})).To(BeNil())
	})

	It("reports non-finite components first", func() {
		v := guard.Inspect(dynamo.State{100, math.NaN()})
		Expect(v).NotTo(BeNil())
		Expect(v.Kind).To(Equal(safety.KindFinite))
		Expect(v.Index).To(Equal(1))
	})

	It("checks energy before component bounds", func() {
		v := guard.Inspect(dynamo.State{5, 0})
		Expect(v.Kind).To(Equal(safety.KindEnergy))
		Expect(v.Value).To(BeNumerically("~", 12.5))
		Expect(v.Limit).To(Equal(10.0))
	})

	It("reports the offending component and its range", func() {
		v := guard.Inspect(dynamo.State{-1.5, 0})
		Expect(v.Kind).To(Equal(safety.KindBounds))
		Expect(v.Index).To(Equal(0))
		Expect(v.Value).To(Equal(-1.5))
		Expect(v.Min).To(Equal(-1.0))
		Expect(v.Max).To(Equal(1.0))
	})

	It("returns a matchable error", func() {
		err := guard.Check(dynamo.State{math.Inf(1), 0})
		var v *safety.Violation
		Expect(errors.As(err, &v)).To(BeTrue())
		Expect(v.Kind).To(Equal(safety.KindFinite))
	})

	It("gives the same verdict on repeated calls", func() {
		states := []dynamo.State{{0, 0}, {2, 0}, {0.9, 4.4}, {math.NaN(), 0}}
		for _, x := range states {
			first := guard.Check(x)
			for i := 0; i < 3; i++ {
				again := guard.Check(x)
				if first == nil {
					Expect(again).To(BeNil())
					continue
				}
				Expect(again).To(HaveOccurred())
				Expect(again.Error()).To(Equal(first.Error()))
			}
		}
	})

	It("does not modify the state it inspects", func() {
		x := dynamo.State{3, 4}
		_ = guard.Check(x)
		Expect(x).To(Equal(dynamo.State{3, 4}))
	})

	It("skips the energy check without an energy functional", func() {
		g := safety.NewGuard(safety.Bounds{MaxEnergy: 1}, struct{}{})
		Expect(g.Check(dynamo.State{100})).To(Succeed())
	})
})

var _ = Describe("individual checks", func() {
	It("disables the energy check for a non-positive ceiling", func() {
		Expect(safety.CheckEnergy(dynamo.State{1e6}, quadratic{}.Energy, 0)).To(BeNil())
	})

	It("treats a NaN energy as a violation", func() {
		nan := func(dynamo.State) float64 { return math.NaN() }
		Expect(safety.CheckEnergy(dynamo.State{0}, nan, 1)).NotTo(BeNil())
	})

	It("accepts values on the boundary", func() {
		r := []safety.Range{{Index: 0, Min: -1, Max: 1}}
		Expect(safety.CheckBounds(dynamo.State{1}, r)).To(BeNil())
		Expect(safety.CheckBounds(dynamo.State{-1}, r)).To(BeNil())
	})
})

var _ = Describe("Bounds.Validate", func() {
	DescribeTable("rejects malformed bounds",
		func(b safety.Bounds) {
			Expect(b.Validate(2)).To(MatchError(safety.ErrInvalidBounds))
		},
		Entry("index past dimension", safety.Bounds{Components: []safety.Range{{Index: 2, Min: 0, Max: 1}}}),
		Entry("negative index", safety.Bounds{Components: []safety.Range{{Index: -1, Min: 0, Max: 1}}}),
		Entry("inverted range", safety.Bounds{Components: []safety.Range{{Index: 0, Min: 1, Max: -1}}}),
		Entry("NaN energy", safety.Bounds{MaxEnergy: math.NaN()}),
	)

	It("accepts empty bounds", func() {
		Expect(safety.Bounds{}.Validate(6)).To(Succeed())
	})
})

var _ = Describe("Violation", func() {
	It("wraps the failure it was built from", func() {
		cause := errors.New("boom")
		v := safety.Failure(safety.KindPlantFailure, cause)
		Expect(errors.Is(v, cause)).To(BeTrue())
		Expect(v.Error()).To(ContainSubstring("plant_failure"))
	})
})
