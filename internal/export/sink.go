package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/xuri/excelize/v2"

	"wisefido-residents/internal/models"
	"wisefido-residents/internal/timeutil"
)

// ReportSink 报表输出端
// 行按产生顺序写入；Close 完成输出，Discard 放弃已产生的部分输出
// （查询中途失败时调用，保证不留下只有表头的残缺文件）
type ReportSink interface {
	WriteRow(row *models.ReportRow) error
	Close() error
	Discard() error
}

// rowStrings 报表行的原始字符串形式（CSV / XLSX 用）
// 平均时长保留原始秒数，空值输出为空串
func rowStrings(row *models.ReportRow) []string {
	avg := ""
	if row.AlarmsAvgDuration != nil {
		avg = strconv.FormatFloat(*row.AlarmsAvgDuration, 'f', 2, 64)
	}
	return []string{
		row.Name,
		row.Location,
		strconv.FormatInt(row.AlarmsCount, 10),
		avg,
		formatTime(row.AlarmsMinTime),
		formatTime(row.AlarmsMaxTime),
		strconv.FormatInt(row.ActiveAlarmsCount, 10),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ============================================
// 控制台输出
// ============================================

// ConsoleSink 控制台表格输出，时长按人类可读格式渲染
type ConsoleSink struct {
	tw          *tabwriter.Writer
	wroteHeader bool
}

// NewConsoleSink 创建控制台输出端；out 为 nil 时写到标准输出
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{
		tw: tabwriter.NewWriter(out, 0, 4, 2, ' ', 0),
	}
}

func (s *ConsoleSink) WriteRow(row *models.ReportRow) error {
	if !s.wroteHeader {
		header := models.ReportRow{}.Columns()
		for i, col := range header {
			if i > 0 {
				fmt.Fprint(s.tw, "\t")
			}
			fmt.Fprint(s.tw, col)
		}
		fmt.Fprintln(s.tw)
		s.wroteHeader = true
	}

	avg := ""
	if row.AlarmsAvgDuration != nil {
		avg = timeutil.FormatDuration(*row.AlarmsAvgDuration)
	}
	_, err := fmt.Fprintf(s.tw, "%s\t%s\t%d\t%s\t%s\t%s\t%d\n",
		row.Name,
		row.Location,
		row.AlarmsCount,
		avg,
		formatTime(row.AlarmsMinTime),
		formatTime(row.AlarmsMaxTime),
		row.ActiveAlarmsCount,
	)
	return err
}

func (s *ConsoleSink) Close() error {
	return s.tw.Flush()
}

// Discard 控制台输出无法撤回，只冲刷已有内容
func (s *ConsoleSink) Discard() error {
	return s.tw.Flush()
}

// ============================================
// CSV 文件输出
// ============================================

// CSVSink CSV 文件输出端
type CSVSink struct {
	path        string
	file        *os.File
	writer      *csv.Writer
	wroteHeader bool
}

// NewCSVSink 创建 CSV 输出端（立即创建目标文件）
func NewCSVSink(path string) (*CSVSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv file: %w", err)
	}
	return &CSVSink{
		path:   path,
		file:   file,
		writer: csv.NewWriter(file),
	}, nil
}

func (s *CSVSink) WriteRow(row *models.ReportRow) error {
	if !s.wroteHeader {
		if err := s.writer.Write(models.ReportRow{}.Columns()); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		s.wroteHeader = true
	}
	if err := s.writer.Write(rowStrings(row)); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return s.file.Close()
}

// Discard 关闭并删除残缺文件
func (s *CSVSink) Discard() error {
	s.file.Close()
	return os.Remove(s.path)
}

// ============================================
// XLSX 文件输出
// ============================================

const xlsxSheet = "Sheet1"

// XLSXSink XLSX 文件输出端；文件内容在 Close 时一次性落盘
type XLSXSink struct {
	path    string
	file    *excelize.File
	nextRow int
}

// NewXLSXSink 创建 XLSX 输出端
func NewXLSXSink(path string) *XLSXSink {
	return &XLSXSink{
		path:    path,
		file:    excelize.NewFile(),
		nextRow: 1,
	}
}

func (s *XLSXSink) WriteRow(row *models.ReportRow) error {
	if s.nextRow == 1 {
		header := models.ReportRow{}.Columns()
		cells := make([]interface{}, len(header))
		for i, col := range header {
			cells[i] = col
		}
		if err := s.setRow(cells); err != nil {
			return err
		}
	}

	values := rowStrings(row)
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return s.setRow(cells)
}

func (s *XLSXSink) setRow(cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, s.nextRow)
	if err != nil {
		return err
	}
	if err := s.file.SetSheetRow(xlsxSheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write xlsx row: %w", err)
	}
	s.nextRow++
	return nil
}

func (s *XLSXSink) Close() error {
	defer s.file.Close()
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("failed to save xlsx file: %w", err)
	}
	return nil
}

// Discard 文件尚未落盘，直接释放
func (s *XLSXSink) Discard() error {
	return s.file.Close()
}
