package fetcher

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// A consumer that stops reading and cancels must not strand the producer.

func TestStreamCSV_AbandonedConsumerDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	var b strings.Builder
	for i := range 500 {
		fmt.Fprintf(&b, "St. Parish %d,Lexington\n", i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(b.String()), CSVOptions{})
	<-rowCh
	cancel()

	for range rowCh {
	}
	for range errCh {
	}
}

func TestDecodeJSONArray_AbandonedConsumerDoesNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t)

	items := make([]string, 500)
	for i := range items {
		items[i] = fmt.Sprintf(`{"name":"St. Parish %d","state":"KY"}`, i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	outCh, _ := DecodeJSONArray[testParish](ctx, strings.NewReader("["+strings.Join(items, ",")+"]"))
	first, ok := <-outCh
	require.True(t, ok)
	require.Equal(t, "St. Parish 0", first.Name)
	cancel()
}
