package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes rows with an At,Actor,Action,Entity,EntityID,Meta header. Meta is JSON.
func WriteCSV(w io.Writer, rows []TimelineRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"At", "Actor", "Action", "Entity", "EntityID", "Meta"}); err != nil {
		return err
	}
	for _, r := range rows {
		meta := ""
		if len(r.Meta) > 0 {
			raw, err := json.Marshal(r.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		record := []string{
			r.At.UTC().Format(time.RFC3339),
			strconv.FormatInt(r.ActorID, 10),
			r.Action,
			r.Entity,
			r.EntityID,
			meta,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
