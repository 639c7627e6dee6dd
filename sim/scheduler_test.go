package sim

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// singleBlockSection is the worked planning example layout: one 10 km
// block at 100 km/h (6 min traversal) with a 3 minute headway.
func singleBlockSection(t *testing.T) *Section {
	t.Helper()
	section, err := NewSection("S", []*Block{
		{ID: "B1", LengthKM: 10, MaxSpeedKMPH: 100, Direction: DirectionBi},
	}, 3)
	require.NoError(t, err)
	return section
}

func TestOptimize_WorkedExample(t *testing.T) {
	// Train1 enters at 0 and exits at 6; Train2 must clear that exit by
	// the 3 minute headway: max(1, 6+3) = 9.
	section := singleBlockSection(t)
	t1 := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 100, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0}
	t2 := &Train{ID: "T2", Priority: 1, MaxSpeedKMPH: 100, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 1}

	schedule, err := NewOptimizer(section).Optimize([]*Train{t1, t2}, 0)
	require.NoError(t, err)

	e1, ok := schedule.Entry("T1", "B1")
	require.True(t, ok)
	assert.InDelta(t, 0.0, e1, 1e-9)

	e2, ok := schedule.Entry("T2", "B1")
	require.True(t, ok)
	block, _ := section.Block("B1")
	assert.InDelta(t, OccupancyWindow(t1, block, 0)+3, e2, 1e-9)
}

func TestOptimize_PriorityMonotonicity(t *testing.T) {
	// A higher-precedence train's committed intervals are identical
	// whether or not a lower-precedence train is present.
	section := singleBlockSection(t)
	a := &Train{ID: "A", Priority: 1, MaxSpeedKMPH: 100, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 2}
	b := &Train{ID: "B", Priority: 2, MaxSpeedKMPH: 100, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0}

	opt := NewOptimizer(section)
	alone, err := opt.Optimize([]*Train{a}, 0)
	require.NoError(t, err)
	together, err := opt.Optimize([]*Train{a, b}, 0)
	require.NoError(t, err)

	wantA, _ := alone.Entry("A", "B1")
	gotA, _ := together.Entry("A", "B1")
	assert.Equal(t, wantA, gotA)

	// B pays the price, A never does.
	gotB, _ := together.Entry("B", "B1")
	assert.Greater(t, gotB, gotA)
}

func TestOptimize_Deterministic(t *testing.T) {
	section := singleBlockSection(t)
	trains := []*Train{
		{ID: "T1", Priority: 2, MaxSpeedKMPH: 100, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 5},
		{ID: "T2", Priority: 1, MaxSpeedKMPH: 80, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0},
		{ID: "T3", Priority: 1, MaxSpeedKMPH: 80, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 0},
	}

	opt := NewOptimizer(section)
	first, err := opt.Optimize(trains, 0)
	require.NoError(t, err)
	second, err := opt.Optimize(trains, 0)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	// Byte-identical when serialized: encoding/json sorts map keys.
	fb, err := json.Marshal(first)
	require.NoError(t, err)
	sb, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, fb, sb)
}

func TestOptimize_RouteChaining(t *testing.T) {
	// The exit of each block is the entry candidate for the next.
	section, err := NewSection("S", []*Block{
		{ID: "B1", LengthKM: 10, MaxSpeedKMPH: 100, Direction: DirectionUp},
		{ID: "B2", LengthKM: 20, MaxSpeedKMPH: 100, Direction: DirectionUp},
	}, 3)
	require.NoError(t, err)

	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 100, Route: []string{"B1", "B2"}, Direction: DirectionUp, DepTimeMin: 4}
	schedule, err := NewOptimizer(section).Optimize([]*Train{train}, 0)
	require.NoError(t, err)

	e1, _ := schedule.Entry("T1", "B1")
	e2, _ := schedule.Entry("T1", "B2")
	assert.InDelta(t, 4.0, e1, 1e-9)
	assert.InDelta(t, 10.0, e2, 1e-9)
}

func TestOptimize_NowFloorsEntries(t *testing.T) {
	section := singleBlockSection(t)
	train := &Train{ID: "T1", Priority: 1, MaxSpeedKMPH: 100, Route: []string{"B1"}, Direction: DirectionUp, DepTimeMin: 5}

	schedule, err := NewOptimizer(section).Optimize([]*Train{train}, 30)
	require.NoError(t, err)
	entry, _ := schedule.Entry("T1", "B1")
	assert.InDelta(t, 30.0, entry, 1e-9)
}

func TestOptimize_UsageErrors(t *testing.T) {
	section := singleBlockSection(t)
	opt := NewOptimizer(section)

	_, err := opt.Optimize([]*Train{
		{ID: "T1", Priority: 1, MaxSpeedKMPH: 100, Route: nil, Direction: DirectionUp},
	}, 0)
	assert.Error(t, err, "empty route")

	_, err = opt.Optimize([]*Train{
		{ID: "T1", Priority: 1, MaxSpeedKMPH: 100, Route: []string{"B9"}, Direction: DirectionUp},
	}, 0)
	assert.Error(t, err, "unknown block")
}

func TestResolveCrossing(t *testing.T) {
	express := &Train{ID: "EXP", Priority: 1, DepTimeMin: 10}
	freight := &Train{ID: "FRT", Priority: 3, DepTimeMin: 0}

	proceeds, waits := ResolveCrossing(freight, express)
	assert.Equal(t, "EXP", proceeds.ID)
	assert.Equal(t, "FRT", waits.ID)

	// Equal priority: earlier departure proceeds.
	early := &Train{ID: "B", Priority: 2, DepTimeMin: 0}
	late := &Train{ID: "A", Priority: 2, DepTimeMin: 5}
	proceeds, waits = ResolveCrossing(late, early)
	assert.Equal(t, "B", proceeds.ID)
	assert.Equal(t, "A", waits.ID)

	// Full tie: lexicographic id.
	x := &Train{ID: "X", Priority: 2, DepTimeMin: 5}
	y := &Train{ID: "Y", Priority: 2, DepTimeMin: 5}
	proceeds, _ = ResolveCrossing(y, x)
	assert.Equal(t, "X", proceeds.ID)
}
