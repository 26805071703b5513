package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShinTechz/fraud-detection-system/pkg/detectors"
	"github.com/ShinTechz/fraud-detection-system/pkg/ensemble"
)

func verdicts() []ensemble.Verdict {
	rule := detectors.Result{Detector: detectors.NameRules, Anomaly: true, Score: 50, Reason: "ODD_HOURS,GEO_JUMP"}
	return []ensemble.Verdict{
		{
			TransactionID:    "tx-1",
			IsAnomaly:        true,
			AnomalyScore:     88,
			Severity:         ensemble.SeverityHigh,
			AnomalyType:      ensemble.TypeMultiple,
			DetectionMethods: []detectors.Result{rule},
			Results:          []detectors.Result{rule},
		},
		{
			TransactionID: "tx-2",
			Results:       []detectors.Result{detectors.Abstain(detectors.NameStatistical, detectors.ReasonInsufficientHistory)},
		},
	}
}

func TestWriterBuffersUntilClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteAll(verdicts()))
	assert.Zero(t, buf.Len(), "output is buffered")
	require.NoError(t, w.Close())

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "tx-1", lines[0]["transaction_id"])
	assert.Equal(t, true, lines[0]["is_anomaly"])
	assert.Equal(t, float64(88), lines[0]["anomaly_score"])
	assert.Equal(t, "HIGH", lines[0]["severity"])
	assert.Equal(t, "MULTIPLE", lines[0]["anomaly_type"])

	assert.Equal(t, false, lines[1]["is_anomaly"])
	assert.NotContains(t, lines[1], "severity")
	assert.NotContains(t, lines[1], "detection_methods")
	results := lines[1]["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].(map[string]any)["abstained"])
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdicts.jsonl")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(verdicts()[0]))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count(data, []byte("\n")))

	var v ensemble.Verdict
	require.NoError(t, json.Unmarshal(data, &v))
	assert.Equal(t, verdicts()[0], v)
}
