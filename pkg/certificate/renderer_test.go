package certificate

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRendererProducesPDF(t *testing.T) {
	out, err := NewRenderer().Render(Data{
		SerialNumber: "CERT-1",
		Recipient:    "student@example.com",
		CourseTitle:  "Go Concurrency",
		Issuer:       "Academy",
		CompletedAt:  time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRendererRequiresTitle(t *testing.T) {
	_, err := NewRenderer().Render(Data{Recipient: "x"})
	require.Error(t, err)
}
