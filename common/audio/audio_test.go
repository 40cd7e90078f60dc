package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mono(samples ...float64) Frames {
	return Frames{Channels: 1, Samples: samples}
}

func TestWordType_Size(t *testing.T) {
	tests := []struct {
		word WordType
		want int
	}{
		{WordUint8, 1},
		{WordInt16, 2},
		{WordInt32, 4},
		{WordFloat32, 4},
		{WordFloat64, 8},
		{WordType("int24"), 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.word), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.word.Size())
			assert.Equal(t, tt.want > 0, tt.word.Valid())
		})
	}
}

func TestWordType_Range(t *testing.T) {
	assert.Equal(t, 1.0, WordFloat32.FullScale())
	assert.Equal(t, 32767.0, WordInt16.FullScale())
	assert.Equal(t, 127.0, WordUint8.FullScale())
	assert.Equal(t, 128.0, WordUint8.Midpoint())
	assert.Zero(t, WordInt32.Midpoint())
}

func TestWordType_SampleCodec(t *testing.T) {
	tests := []struct {
		name    string
		word    WordType
		samples []float64
		want    []float64
	}{
		{"float32", WordFloat32, []float64{0, 0.5, -0.25, 1}, []float64{0, 0.5, -0.25, 1}},
		{"float64", WordFloat64, []float64{0.1, -0.3}, []float64{0.1, -0.3}},
		{"int16", WordInt16, []float64{-32768, 0, 1200, 32767}, []float64{-32768, 0, 1200, 32767}},
		{"int16 saturates", WordInt16, []float64{-40000, 40000}, []float64{-32768, 32767}},
		{"int16 rounds", WordInt16, []float64{2.6, -2.6}, []float64{3, -3}},
		{"int32", WordInt32, []float64{-2147483648, 7, 2147483647}, []float64{-2147483648, 7, 2147483647}},
		{"uint8", WordUint8, []float64{0, 128, 255, 300}, []float64{0, 128, 255, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.word.AppendSamples(nil, tt.samples)
			require.NoError(t, err)
			assert.Len(t, b, len(tt.samples)*tt.word.Size())

			got, err := tt.word.DecodeSamples(b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWordType_DecodeRejectsPartialSample(t *testing.T) {
	_, err := WordFloat32.DecodeSamples([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = WordType("bogus").DecodeSamples([]byte{1})
	assert.Error(t, err)
}

func TestSequenceQueue_OrdersByID(t *testing.T) {
	q := NewSequenceQueue(QueueOptions{})
	for _, id := range []uint32{5, 2, 9, 2} {
		q.Push(Fragment{SequenceID: id, Frames: mono(float64(id))})
	}

	var got []uint32
	for {
		f, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, f.SequenceID)
	}
	assert.Equal(t, []uint32{2, 2, 5, 9}, got)
}

func TestSequenceQueue_EqualIDsKeepArrivalOrder(t *testing.T) {
	q := NewSequenceQueue(QueueOptions{})
	q.Push(Fragment{SequenceID: 1, Frames: mono(10)})
	q.Push(Fragment{SequenceID: 1, Frames: mono(20)})

	first, _ := q.Pop()
	second, _ := q.Pop()
	assert.Equal(t, mono(10), first.Frames)
	assert.Equal(t, mono(20), second.Frames)
}

func TestSequenceQueue_DropStale(t *testing.T) {
	q := NewSequenceQueue(QueueOptions{DropStale: true})

	assert.Equal(t, Queued, q.Push(Fragment{SequenceID: 4}))
	assert.Equal(t, DroppedDuplicate, q.Push(Fragment{SequenceID: 4}))
	assert.Equal(t, Queued, q.Push(Fragment{SequenceID: 6}))

	f, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(4), f.SequenceID)

	assert.Equal(t, DroppedStale, q.Push(Fragment{SequenceID: 3}))
	assert.Equal(t, DroppedStale, q.Push(Fragment{SequenceID: 4}))
	assert.Equal(t, Queued, q.Push(Fragment{SequenceID: 5}))
	assert.Equal(t, 2, q.Len())
}

func TestSequenceQueue_CapacityEvictsOldest(t *testing.T) {
	q := NewSequenceQueue(QueueOptions{Capacity: 2})

	assert.Equal(t, Queued, q.Push(Fragment{SequenceID: 1}))
	assert.Equal(t, Queued, q.Push(Fragment{SequenceID: 2}))
	assert.Equal(t, QueuedEvicted, q.Push(Fragment{SequenceID: 3}))
	assert.Equal(t, 2, q.Len())

	f, _ := q.Pop()
	assert.Equal(t, uint32(2), f.SequenceID)
}

func TestSequenceQueue_PopEmpty(t *testing.T) {
	q := NewSequenceQueue(QueueOptions{})
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestMixExcluding_ThreeContributors(t *testing.T) {
	a := mono(3, 6, 9)
	b := mono(0.3, -1.5, 12)
	c := mono(-3, 0.75, 4.5)

	mixes := MixExcluding(map[string]Frames{"A": a, "B": b, "C": c}, MixGain)
	require.Len(t, mixes, 3)

	want := func(x, y Frames) []float64 {
		out := make([]float64, len(x.Samples))
		for i := range out {
			out[i] = MixGain*x.Samples[i] + MixGain*y.Samples[i]
		}
		return out
	}
	assert.InDeltaSlice(t, want(b, c), mixes["A"].Samples, 1e-12)
	assert.InDeltaSlice(t, want(a, c), mixes["B"].Samples, 1e-12)
	assert.InDeltaSlice(t, want(a, b), mixes["C"].Samples, 1e-12)
}

func TestMixExcluding_SingleContributor(t *testing.T) {
	assert.Nil(t, MixExcluding(map[string]Frames{"A": mono(1, 2)}, MixGain))
	assert.Nil(t, MixExcluding(map[string]Frames{}, MixGain))
}

func TestMixExcluding_PadsShortFragments(t *testing.T) {
	mixes := MixExcluding(map[int]Frames{1: mono(3, 3, 3), 2: mono(3)}, 1)
	assert.Equal(t, []float64{3, 0, 0}, mixes[1].Samples)
	assert.Equal(t, []float64{3, 3, 3}, mixes[2].Samples)
}

func TestFrameSupplier_UnderrunIsSilent(t *testing.T) {
	s := NewFrameSupplier(NewSequenceQueue(QueueOptions{}), 2)

	out := s.Frames(256)
	assert.Equal(t, 256, out.Len())
	assert.Len(t, out.Samples, 512)
	for _, v := range out.Samples {
		assert.Zero(t, v)
	}
	assert.Equal(t, uint64(1), s.Underruns())
}

func TestFrameSupplier_SplicesFragments(t *testing.T) {
	q := NewSequenceQueue(QueueOptions{})
	q.Push(Fragment{SequenceID: 2, Frames: mono(4, 5, 6)})
	q.Push(Fragment{SequenceID: 1, Frames: mono(1, 2, 3)})
	s := NewFrameSupplier(q, 1)

	assert.Equal(t, []float64{1, 2}, s.Frames(2).Samples)
	assert.Equal(t, []float64{3, 4, 5, 6}, s.Frames(4).Samples)
	assert.Equal(t, []float64{0, 0}, s.Frames(2).Samples)
}

func TestFrameSupplier_PartialUnderrun(t *testing.T) {
	q := NewSequenceQueue(QueueOptions{})
	q.Push(Fragment{SequenceID: 1, Frames: mono(7, 8)})
	s := NewFrameSupplier(q, 1)

	assert.Equal(t, []float64{7, 8, 0, 0, 0}, s.Frames(5).Samples)
	assert.Equal(t, uint64(1), s.Underruns())
}

func TestFrameSupplier_FoldsChannels(t *testing.T) {
	q := NewSequenceQueue(QueueOptions{})
	q.Push(Fragment{SequenceID: 1, Frames: Frames{Channels: 2, Samples: []float64{1, 2, 3, 4}}})
	s := NewFrameSupplier(q, 1)

	assert.Equal(t, []float64{1, 3}, s.Frames(2).Samples)
}
