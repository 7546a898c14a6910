package ingest

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/pitabwire/hibah/model"
)

const templateSheet = "Sheet1"

var headers = map[model.TableKind][]string{
	model.TableIKU:       {"No", "Kode IKU", "Indikator", "Satuan", "Target", "Realisasi", "Keterangan"},
	model.TableTools:     {"No", "Unit", "Kode Sub Kegiatan", "Kode IKU", "Nama Barang", "Spesifikasi", "Jumlah", "Satuan", "Harga Satuan", "Penyedia", "Jumlah Usulan"},
	model.TableIncentive: {"No", "Unit", "Kode Sub Kegiatan", "Kode IKU", "Kegiatan", "Volume", "Luaran", "Jumlah Usulan", "Realisasi", "Sisa"},
	model.TableActivity:  {"No", "Kegiatan", "Sub Kegiatan", "Volume", "Satuan", "Anggaran", "Jadwal"},
	model.TableFunding:   {"No", "Uraian", "Volume", "Satuan", "Harga Satuan", "Jumlah"},
}

// Headers returns the column titles of a template for kind. The acceptance
// flag column is left out; only reviewers set it.
func Headers(kind model.TableKind) []string {
	return headers[kind]
}

// TemplateName is the download file name of the template for kind.
func TemplateName(kind model.TableKind) string {
	return "template-" + string(kind) + ".xlsx"
}

// WriteTemplate writes an empty upload template for kind. Marker-scan
// templates get one header row followed by a first data row numbered
// StartMarker; fixed-offset templates get the two header rows the ingester
// skips.
func WriteTemplate(w io.Writer, kind model.TableKind) error {
	ru, ok := rules[kind]
	if !ok {
		return model.NewBadRequestError(fmt.Sprintf("unknown table kind %q", kind))
	}

	f := excelize.NewFile()
	defer f.Close()

	head := headers[kind]
	if err := setRow(f, 1, head); err != nil {
		return err
	}

	second := make([]string, len(head))
	if ru.policy == FixedOffset {
		for i := range second {
			second[i] = "(" + strconv.Itoa(i+1) + ")"
		}
	} else {
		second[0] = StartMarker
	}
	if err := setRow(f, 2, second); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("ingest: writing %s template: %w", kind, err)
	}
	return nil
}

func setRow(f *excelize.File, row int, cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	values := make([]any, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	return f.SetSheetRow(templateSheet, cell, &values)
}
