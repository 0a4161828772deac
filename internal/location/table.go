package location

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/hitoshi/onthemap/internal/model"
)

// TableRenderer は位置情報を表形式のテキストとして書き出す。
type TableRenderer struct {
	w io.Writer
}

// NewTableRenderer はwへ書き出すTableRendererを生成する。
func NewTableRenderer(w io.Writer) *TableRenderer {
	return &TableRenderer{w: w}
}

// Render は1行に1件ずつ、名前・地名・リンク・座標・更新日時を書き出す。
func (t *TableRenderer) Render(locations []model.Location) {
	tw := tabwriter.NewWriter(t.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLOCATION\tLINK\tLATITUDE\tLONGITUDE\tUPDATED")
	for _, loc := range locations {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			loc.FullName(),
			loc.MapString,
			loc.MediaURL,
			strconv.FormatFloat(loc.Latitude, 'f', 4, 64),
			strconv.FormatFloat(loc.Longitude, 'f', 4, 64),
			loc.UpdatedAt,
		)
	}
	tw.Flush()
}
