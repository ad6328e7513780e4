package sampler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/uart-sampler/internal/link"
)

// fakeReader records the region of every read and checks the receiver's
// buffer was zeroed before dispatch.
type fakeReader struct {
	t       *testing.T
	r       *Receiver
	idle    []int // bytes to deliver per idle read, -1 fills the region
	err     error
	regions [][2]int
}

func (f *fakeReader) record(p []byte) int {
	for i, b := range f.r.buf {
		require.Zerof(f.t, b, "buffer byte %d not reset before dispatch", i)
	}
	start := len(f.r.buf) - cap(p)
	f.regions = append(f.regions, [2]int{start, start + len(p)})
	return start
}

func (f *fakeReader) ReadExact(ctx context.Context, p []byte) error {
	f.record(p)
	if f.err != nil {
		return f.err
	}
	for i := range p {
		p[i] = byte(0x10 + i)
	}
	return nil
}

func (f *fakeReader) ReadUntilIdle(ctx context.Context, p []byte) (int, error) {
	f.record(p)
	if f.err != nil {
		return 0, f.err
	}
	n := len(p)
	if len(f.idle) > 0 {
		if f.idle[0] >= 0 {
			n = f.idle[0]
		}
		f.idle = f.idle[1:]
	}
	for i := 0; i < n && i < len(p); i++ {
		p[i] = byte(0x20 + i)
	}
	return n, nil
}

func newTestReceiver(t *testing.T, strategy Strategy, reps ...Reporter) (*Receiver, *fakeReader) {
	f := &fakeReader{t: t}
	r, err := NewReceiver(f, ReceiverConfig{
		Strategy:        strategy,
		Capacity:        20,
		DataLen:         6,
		AlternateOffset: 8,
	}, reps...)
	require.NoError(t, err)
	f.r = r
	return r, f
}

func requireTailZero(t *testing.T, s Sample) {
	for i, b := range s.Data {
		if i >= s.Start && i < s.Start+s.N {
			require.NotZero(t, b)
			continue
		}
		require.Zerof(t, b, "byte %d outside captured region", i)
	}
}

func TestStrategyFor(t *testing.T) {
	testCases := []struct {
		alternate, idle bool
		expect          Strategy
		name            string
	}{
		{false, false, FixedLength, "fixed-length"},
		{false, true, UntilIdle, "until-idle"},
		{true, false, AlternatingFixed, "alternating-fixed"},
		{true, true, AlternatingUntilIdle, "alternating-until-idle"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := StrategyFor(tc.alternate, tc.idle)
			require.Equal(t, tc.expect, s)
			require.Equal(t, tc.name, s.String())
			require.Equal(t, tc.alternate, s.Alternates())
			require.Equal(t, tc.idle, s.IdleTerminated())
		})
	}
	require.Equal(t, "Strategy(9)", Strategy(9).String())
}

func TestNewReceiverValidation(t *testing.T) {
	testCases := []struct {
		name string
		cfg  ReceiverConfig
		ok   bool
	}{
		{"defaults", ReceiverConfig{DataLen: 6}, true},
		{"zero data length", ReceiverConfig{Capacity: 20}, false},
		{"payload larger than buffer", ReceiverConfig{Capacity: 4, DataLen: 6}, false},
		{"alternate region past end", ReceiverConfig{Strategy: AlternatingFixed, Capacity: 10, DataLen: 6, AlternateOffset: 8}, false},
		{"alternate region fits", ReceiverConfig{Strategy: AlternatingFixed, Capacity: 14, DataLen: 6, AlternateOffset: 8}, true},
		{"idle offset at end", ReceiverConfig{Strategy: AlternatingUntilIdle, Capacity: 8, DataLen: 6, AlternateOffset: 8}, false},
		{"idle offset inside", ReceiverConfig{Strategy: AlternatingUntilIdle, Capacity: 9, DataLen: 6, AlternateOffset: 8}, true},
		{"negative offset", ReceiverConfig{Strategy: AlternatingFixed, Capacity: 20, DataLen: 6, AlternateOffset: -1}, false},
		{"offset ignored without alternation", ReceiverConfig{Strategy: FixedLength, Capacity: 10, DataLen: 6, AlternateOffset: 8}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewReceiver(&fakeReader{}, tc.cfg)
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidRegion)
			}
		})
	}
}

func TestReceiverFixedLength(t *testing.T) {
	r, f := newTestReceiver(t, FixedLength)
	for i := 0; i < 6; i++ {
		s, err := r.Cycle(context.Background())
		require.NoError(t, err)
		require.Equal(t, 0, s.Start)
		require.Equal(t, 6, s.End)
		require.Equal(t, 6, s.N)
		require.Equal(t, uint8(1), s.Counter)
		require.Len(t, s.Data, 20)
		requireTailZero(t, s)
	}
	for _, reg := range f.regions {
		require.Equal(t, [2]int{0, 6}, reg)
	}
}

func TestReceiverAlternatingFixed(t *testing.T) {
	r, f := newTestReceiver(t, AlternatingFixed)
	expectStarts := []int{0, 0, 0, 8, 0, 0, 0, 8, 0}
	expectCounters := []uint8{2, 3, 4, 1, 2, 3, 4, 1, 2}
	for i := range expectStarts {
		s, err := r.Cycle(context.Background())
		require.NoError(t, err)
		require.Equal(t, expectStarts[i], s.Start, "cycle %d", i+1)
		require.Equal(t, expectStarts[i]+6, s.End)
		require.Equal(t, 6, s.N)
		require.Equal(t, expectCounters[i], s.Counter)
		require.GreaterOrEqual(t, s.Counter, uint8(1))
		require.LessOrEqual(t, s.Counter, uint8(4))
		requireTailZero(t, s)
	}
	require.Equal(t, [][2]int{{0, 6}, {0, 6}, {0, 6}, {8, 14}}, f.regions[:4])
}

func TestReceiverUntilIdle(t *testing.T) {
	r, f := newTestReceiver(t, UntilIdle)
	f.idle = []int{3, -1, 1}

	s, err := r.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, s.N)
	require.Equal(t, 0, s.Start)
	require.Equal(t, 20, s.End)
	requireTailZero(t, s)

	s, err = r.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 20, s.N)

	s, err = r.Cycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, s.N)
	requireTailZero(t, s)
}

func TestReceiverAlternatingUntilIdle(t *testing.T) {
	r, f := newTestReceiver(t, AlternatingUntilIdle)
	f.idle = []int{6, 6, 6, -1, 2}

	expect := []struct{ start, n int }{{0, 6}, {0, 6}, {0, 6}, {8, 12}, {0, 2}}
	for i, e := range expect {
		s, err := r.Cycle(context.Background())
		require.NoError(t, err)
		require.Equal(t, e.start, s.Start, "cycle %d", i+1)
		require.Equal(t, 20, s.End)
		require.Equal(t, e.n, s.N)
		require.LessOrEqual(t, s.N, s.End-s.Start)
		requireTailZero(t, s)
	}
}

func TestReceiverIdleOverrun(t *testing.T) {
	r, f := newTestReceiver(t, UntilIdle)
	f.idle = []int{21}
	_, err := r.Cycle(context.Background())
	require.ErrorIs(t, err, link.ErrOverrun)
}

func TestReceiverReadError(t *testing.T) {
	boom := &link.Error{Op: link.OpRead, Err: errors.New("framing error")}
	for _, strategy := range []Strategy{FixedLength, UntilIdle, AlternatingFixed, AlternatingUntilIdle} {
		t.Run(strategy.String(), func(t *testing.T) {
			var reported int
			r, f := newTestReceiver(t, strategy, ReporterFunc(func(Sample) { reported++ }))
			f.err = boom

			err := r.Run(context.Background())
			require.ErrorIs(t, err, boom)
			require.Zero(t, reported)
			require.Len(t, f.regions, 1)
		})
	}
}

func TestReceiverReportsCopies(t *testing.T) {
	var got []Sample
	r, _ := newTestReceiver(t, FixedLength, ReporterFunc(func(s Sample) { got = append(got, s) }))

	_, err := r.Cycle(context.Background())
	require.NoError(t, err)
	got[0].Data[0] = 0xFF

	_, err = r.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, byte(0x10), got[1].Data[0])
	require.Equal(t, uint64(1), got[0].Seq)
	require.Equal(t, uint64(2), got[1].Seq)
}

func TestFormatHex(t *testing.T) {
	require.Equal(t, "[]", FormatHex(nil))
	require.Equal(t, "[0x0A]", FormatHex([]byte{0x0A}))
	require.Equal(t, "[0xCA, 0xFE, 0xBA, 0xBE, 0xDA, 0xDA]", FormatHex(DefaultPayload))
}
