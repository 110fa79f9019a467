package schema

import (
	"strings"

	"github.com/mohammed-shakir/cutout-service/internal/core/apperr"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/datalake"
)

// ZTF alerts keep each stamp in a record {fileName, stampData} and gzip the
// FITS bytes.
type ZTF struct{}

const ztfStampField = "stampData"

func init() { Register(ZTF{}) }

func (ZTF) Kind() model.SchemaKind { return model.SchemaZTF }

func (ZTF) Compressed() bool { return true }

func (ZTF) Resolve(req model.CutoutRequest) ([]datalake.Column, datalake.Filter, error) {
	stamps, err := stampColumns(req.Kind, func(name string) []string {
		return []string{name, ztfStampField}
	})
	if err != nil {
		return nil, nil, err
	}
	id := strings.TrimSpace(req.ObjectID)
	if id == "" {
		return nil, nil, apperr.InvalidArgument("missing required parameter: objectId")
	}

	cols := append([]datalake.Column{{Name: "objectId", Path: []string{"objectId"}}}, stamps...)
	filter := datalake.Filter{{Path: []string{"objectId"}, Value: id}}
	if req.Candid != nil {
		filter = append(filter, datalake.Predicate{Path: []string{"candid"}, Value: *req.Candid})
	}
	return cols, filter, nil
}

func (ZTF) Payload(row datalake.Row, col datalake.Column) ([]byte, error) {
	return bytesCell(row, col)
}

func (ZTF) Describe() []model.ArgSpec {
	return []model.ArgSpec{
		commonArgs.path,
		{Name: "objectId", Required: true, Description: "ZTF Object ID"},
		{Name: "candid", Required: false, Description: "Candidate ID of the alert belonging to the object with `objectId`. If not filled, the cutouts of the latest alert is returned"},
		commonArgs.kind,
		commonArgs.format,
	}
}
