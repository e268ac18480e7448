package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "NVDA", NormalizeSymbol(" nvda "))
	assert.Equal(t, "MSFT", NormalizeSymbol("MSFT"))
}

func TestDataType_DatasetInterval(t *testing.T) {
	di, ok := DataTypePriceIntraday15m.DatasetInterval()
	require.True(t, ok)
	assert.Equal(t, "price", di.Dataset)
	assert.Equal(t, "15m", di.Interval)

	_, ok = DataType("bogus").DatasetInterval()
	assert.False(t, ok)
}

func TestDataType_IsBlocking(t *testing.T) {
	assert.True(t, DataTypePriceHistorical.IsBlocking())
	assert.False(t, DataTypeFundamentals.IsBlocking())
	assert.False(t, DataTypeNews.IsBlocking())
}

func TestComputeSurprisePct(t *testing.T) {
	est, act := 2.0, 2.5
	pct := ComputeSurprisePct(&est, &act)
	require.NotNil(t, pct)
	assert.InDelta(t, 25.0, *pct, 0.0001)

	tiny := 0.005
	pct = ComputeSurprisePct(&tiny, &act)
	assert.Nil(t, pct, "estimate below epsilon must yield absent surprise%%")

	pct = ComputeSurprisePct(nil, &act)
	assert.Nil(t, pct)
}

func TestValidationReport_DeriveOverallStatus(t *testing.T) {
	r := &ValidationReport{}
	r.DeriveOverallStatus()
	assert.Equal(t, StatusPass, r.OverallStatus)

	r.Issues = append(r.Issues, ValidationIssue{Severity: SeverityWarning})
	r.DeriveOverallStatus()
	assert.Equal(t, StatusWarning, r.OverallStatus)

	r.Issues = append(r.Issues, ValidationIssue{Severity: SeverityCritical})
	r.DeriveOverallStatus()
	assert.Equal(t, StatusFail, r.OverallStatus)
	assert.Equal(t, 1, r.CriticalIssues())
	assert.Equal(t, 1, r.Warnings())
}

func TestStageName_Blocking(t *testing.T) {
	assert.True(t, StageIngestion.Blocking())
	assert.False(t, StageFundamentals.Blocking())
	assert.False(t, StageEarnings.Blocking())
	assert.False(t, StageIndustryPeers.Blocking())
}

func TestWorkflowMetadata_Init(t *testing.T) {
	md := NewWorkflowMetadata()
	require.NotNil(t, md.StageErrors)
	md.StageErrors["ingestion"] = "boom"
	assert.Len(t, md.StageErrors, 1)
}

func TestIngestionState_Zero(t *testing.T) {
	st := IngestionState{Symbol: "NVDA", Dataset: "price", Interval: "daily"}
	assert.Nil(t, st.LastSuccessAt)
	assert.Equal(t, 0, st.RetryCount)
	assert.WithinDuration(t, time.Time{}, st.LastAttemptAt, 0)
}
