package store

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// CSVBackend keeps the collection in one CSV file with the Columns header.
// Appends write only the new rows; updates rewrite the file through a
// temporary file and a rename.
type CSVBackend struct {
	Path string
}

// NewCSVBackend returns a backend for path. The file is created on first write.
func NewCSVBackend(path string) *CSVBackend {
	return &CSVBackend{Path: path}
}

// Load implements Backend
func (b *CSVBackend) Load(ctx context.Context, dates []string) (KeySet, error) {
	want := make(map[string]bool, len(dates))
	for _, d := range dates {
		want[d] = true
	}

	keys := make(KeySet)
	err := b.scan(func(rec []string, col columnIndex) error {
		k := Key{Date: rec[col.date], AssetCode: rec[col.code]}
		if len(want) > 0 && !want[k.Date] {
			return nil
		}
		price, err := decimal.NewFromString(rec[col.price])
		if err != nil {
			// unreadable prices never compare equal
			price = decimal.Zero
		}
		keys[k] = price
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return keys, nil
	}
	return keys, err
}

// Apply implements Backend
func (b *CSVBackend) Apply(ctx context.Context, changes Changes) error {
	if changes.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if len(changes.Updates) == 0 {
		return b.appendRows(changes.Inserts)
	}
	return b.rewrite(changes)
}

func (b *CSVBackend) appendRows(rows []Record) error {
	f, err := os.OpenFile(b.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", b.Path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	switch {
	case fi.Size() == 0:
		if err := w.Write(Columns); err != nil {
			return err
		}
	case !endsWithNewline(f, fi.Size()):
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}
	for _, r := range rows {
		if err := w.Write(encode(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append to %s: %w", b.Path, err)
	}
	return f.Sync()
}

func (b *CSVBackend) rewrite(changes Changes) error {
	updates := make(map[Key]Record, len(changes.Updates))
	for _, r := range changes.Updates {
		updates[r.Key()] = r
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.Path), "."+filepath.Base(b.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	bw := bufio.NewWriter(tmp)
	w := csv.NewWriter(bw)
	if err := w.Write(Columns); err != nil {
		return err
	}

	applied := 0
	err = b.scan(func(rec []string, col columnIndex) error {
		out := make([]string, len(Columns))
		for i, name := range Columns {
			if j, ok := col.byName[name]; ok {
				out[i] = rec[j]
			}
		}
		if u, ok := updates[Key{Date: rec[col.date], AssetCode: rec[col.code]}]; ok {
			out[2] = u.Price.String()
			out[6] = u.Source
			out[7] = u.CrawlTime.Format(time.RFC3339)
			applied++
		}
		return w.Write(out)
	})
	if err != nil {
		return err
	}
	if applied != len(updates) {
		return fmt.Errorf("%d of %d updated rows not found in %s", len(updates)-applied, len(updates), b.Path)
	}

	for _, r := range changes.Inserts {
		if err := w.Write(encode(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), b.Path); err != nil {
		return fmt.Errorf("replace %s: %w", b.Path, err)
	}
	return nil
}

// ReadAll returns every row in file order.
func (b *CSVBackend) ReadAll() ([]Record, error) {
	var rows []Record
	err := b.scan(func(rec []string, col columnIndex) error {
		r := Record{
			Date:      rec[col.date],
			AssetCode: rec[col.code],
		}
		r.Price, _ = decimal.NewFromString(rec[col.price])
		if j, ok := col.byName["asset_name"]; ok {
			r.AssetName = rec[j]
		}
		if j, ok := col.byName["asset_type"]; ok {
			r.AssetClass = rec[j]
		}
		if j, ok := col.byName["currency"]; ok {
			r.Currency = rec[j]
		}
		if j, ok := col.byName["source"]; ok {
			r.Source = rec[j]
		}
		if j, ok := col.byName["crawl_time"]; ok {
			r.CrawlTime, _ = time.Parse(time.RFC3339, rec[j])
		}
		rows = append(rows, r)
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return rows, err
}

type columnIndex struct {
	byName            map[string]int
	date, code, price int
}

// scan reads the file and calls fn for each data row.
func (b *CSVBackend) scan(fn func(rec []string, col columnIndex) error) error {
	f, err := os.Open(b.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header of %s: %w", b.Path, err)
	}

	col := columnIndex{byName: make(map[string]int, len(header))}
	for i, name := range header {
		col.byName[name] = i
	}
	for _, required := range []string{"date", "asset_code", "price"} {
		if _, ok := col.byName[required]; !ok {
			return fmt.Errorf("%s: missing column %q", b.Path, required)
		}
	}
	col.date, col.code, col.price = col.byName["date"], col.byName["asset_code"], col.byName["price"]

	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", b.Path, err)
		}
		if len(rec) < len(header) {
			return fmt.Errorf("%s line %d: %d fields, want %d", b.Path, line, len(rec), len(header))
		}
		if err := fn(rec, col); err != nil {
			return err
		}
	}
}

func encode(r Record) []string {
	return []string{
		r.Date,
		r.AssetCode,
		r.Price.String(),
		r.AssetName,
		r.AssetClass,
		r.Currency,
		r.Source,
		r.CrawlTime.Format(time.RFC3339),
	}
}

func endsWithNewline(f *os.File, size int64) bool {
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, size-1); err != nil {
		return true
	}
	return buf[0] == '\n'
}
