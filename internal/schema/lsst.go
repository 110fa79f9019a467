package schema

import (
	"github.com/mohammed-shakir/cutout-service/internal/core/apperr"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/datalake"
)

// LSST alerts store FITS bytes directly in the cutout columns and key rows
// by the nested diaSource.diaSourceId.
type LSST struct{}

func init() { Register(LSST{}) }

func (LSST) Kind() model.SchemaKind { return model.SchemaLSST }

func (LSST) Compressed() bool { return false }

func (LSST) Resolve(req model.CutoutRequest) ([]datalake.Column, datalake.Filter, error) {
	stamps, err := stampColumns(req.Kind, func(name string) []string {
		return []string{name}
	})
	if err != nil {
		return nil, nil, err
	}
	if !req.HasSourceID {
		return nil, nil, apperr.InvalidArgument("missing required parameter: diaSourceId")
	}

	cols := append([]datalake.Column{{
		Name: "diaObject.diaObjectId",
		Path: []string{"diaObject", "diaObjectId"},
	}}, stamps...)
	filter := datalake.Filter{{Path: []string{"diaSource", "diaSourceId"}, Value: req.SourceID}}
	return cols, filter, nil
}

func (LSST) Payload(row datalake.Row, col datalake.Column) ([]byte, error) {
	return bytesCell(row, col)
}

func (LSST) Describe() []model.ArgSpec {
	return []model.ArgSpec{
		commonArgs.path,
		{Name: "diaSourceId", Required: true, Description: "diaSource ID of the alert"},
		commonArgs.kind,
		commonArgs.format,
	}
}
