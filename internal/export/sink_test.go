package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"wisefido-residents/internal/models"
)

func reportRowFixture() *models.ReportRow {
	avg := 42.0
	minTime := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	maxTime := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	return &models.ReportRow{
		Name:              "Ann",
		Location:          "RoomA",
		AlarmsCount:       3,
		AlarmsAvgDuration: &avg,
		AlarmsMinTime:     &minTime,
		AlarmsMaxTime:     &maxTime,
		ActiveAlarmsCount: 1,
	}
}

func TestConsoleSink_WritesHeaderAndRows(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)

	require.NoError(t, sink.WriteRow(reportRowFixture()))
	require.NoError(t, sink.Close())

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "alarms_avg_duration")
	assert.Contains(t, lines[1], "Ann")
	assert.Contains(t, lines[1], "RoomA")
	// 控制台时长按人类可读格式渲染
	assert.Contains(t, lines[1], "01m")
}

func TestCSVSink_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.WriteRow(reportRowFixture()))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.ReportRow{}.Columns(), records[0])
	assert.Equal(t, []string{
		"Ann", "RoomA", "3", "42.00",
		"2024-03-05T10:00:00Z", "2024-03-05T12:00:00Z", "1",
	}, records[1])
}

func TestCSVSink_NullAggregatesAreEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	row := &models.ReportRow{Name: "Bob", Location: "RoomB", ActiveAlarmsCount: 2}
	require.NoError(t, sink.WriteRow(row))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Bob,RoomB,0,,,,2")
}

func TestCSVSink_DiscardRemovesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	sink, err := NewCSVSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.WriteRow(reportRowFixture()))
	require.NoError(t, sink.Discard())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestXLSXSink_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	sink := NewXLSXSink(path)

	require.NoError(t, sink.WriteRow(reportRowFixture()))
	require.NoError(t, sink.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "name", rows[0][0])
	assert.Equal(t, "Ann", rows[1][0])
	assert.Equal(t, "42.00", rows[1][3])
}

func TestXLSXSink_DiscardLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")
	sink := NewXLSXSink(path)

	require.NoError(t, sink.WriteRow(reportRowFixture()))
	require.NoError(t, sink.Discard())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
