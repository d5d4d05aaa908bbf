package usage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	rec.Counter(CounterPromptTokens, 5)
	rec.Counter(CounterCompletionTokens, 1)
	rec.Counter(CounterTotalTokens, 6)
	rec.Counter(CounterTotalTokens, 4)

	assert.Equal(t, []Sample{
		{CounterPromptTokens, 5},
		{CounterCompletionTokens, 1},
		{CounterTotalTokens, 6},
		{CounterTotalTokens, 4},
	}, rec.Samples())
	assert.Equal(t, map[string]int64{
		CounterPromptTokens:     5,
		CounterCompletionTokens: 1,
		CounterTotalTokens:      10,
	}, rec.Totals())
}

func TestRecorder_SamplesIsACopy(t *testing.T) {
	rec := &Recorder{}
	rec.Counter(CounterTotalTokens, 1)

	samples := rec.Samples()
	samples[0].Value = 99
	assert.Equal(t, int64(1), rec.Samples()[0].Value)
}

func TestRecorder_Concurrent(t *testing.T) {
	rec := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Counter(CounterTotalTokens, 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(40), rec.Totals()[CounterTotalTokens])
}

func TestMultiSink(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	sink := MultiSink{a, nil, b, NoopSink{}}

	sink.Counter(CounterPromptTokens, 3)

	assert.Equal(t, []Sample{{CounterPromptTokens, 3}}, a.Samples())
	assert.Equal(t, []Sample{{CounterPromptTokens, 3}}, b.Samples())
}
