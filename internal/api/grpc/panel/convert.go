package panel

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/tuya-alarm/internal/domain/alarm"
	"github.com/oshokin/tuya-alarm/internal/store"
)

// Request field names.
const (
	fieldActor    = "actor"
	fieldHostname = "hostname"
	fieldUsername = "username"
	fieldMode     = "mode"
	fieldCode     = "code"
	fieldValue    = "value"
	fieldLimit    = "limit"
)

// snapshotStruct renders a snapshot with the same keys as its JSON form.
func snapshotStruct(s store.Snapshot) (*structpb.Struct, error) {
	fields := map[string]any{
		"device_id":    s.DeviceID,
		"alarm":        string(s.Alarm),
		"confirmed":    string(s.Confirmed),
		"pending":      string(s.Pending),
		"available":    s.Available,
		"last_error":   s.LastError,
		"sequence":     s.Sequence,
		"confirmed_at": timestamp(s.ConfirmedAt),
		"updated_at":   timestamp(s.UpdatedAt),
		"status":       s.Status.Map(),
	}

	if s.Device != nil {
		fields["device"] = map[string]any{
			"id":           s.Device.ID,
			"name":         s.Device.Name,
			"model":        s.Device.Model,
			"product_name": s.Device.ProductName,
			"category":     s.Device.Category,
			"online":       s.Device.Online,
		}
	}

	return structpb.NewStruct(fields)
}

func functionsStruct(specs []alarm.FunctionSpec) (*structpb.Struct, error) {
	items := make([]any, 0, len(specs))

	for _, spec := range specs {
		item := map[string]any{
			"code": spec.Code,
			"type": spec.Type,
			"name": spec.Name,
			"desc": spec.Desc,
		}

		if len(spec.Range) > 0 {
			values := make([]any, 0, len(spec.Range))
			for _, v := range spec.Range {
				values = append(values, v)
			}

			item["range"] = values
		}

		if spec.Type == alarm.FunctionInteger {
			item["min"] = spec.Min
			item["max"] = spec.Max
			item["step"] = spec.Step
			item["unit"] = spec.Unit
		}

		items = append(items, item)
	}

	return structpb.NewStruct(map[string]any{"functions": items})
}

func recordFields(r *alarm.CommandRecord) map[string]any {
	fields := map[string]any{
		"id":          r.ID,
		"kind":        string(r.Kind),
		"code":        r.Code,
		"value":       r.Value,
		"outcome":     string(r.Outcome),
		"observed":    string(r.Observed),
		"attempts":    int64(r.Attempts),
		"started_at":  timestamp(r.StartedAt),
		"finished_at": timestamp(r.FinishedAt),
		"error":       r.Error,
	}

	if r.Actor != nil {
		fields[fieldActor] = map[string]any{
			fieldHostname: r.Actor.Hostname,
			fieldUsername: r.Actor.Username,
		}
	}

	return fields
}

func recordStruct(r *alarm.CommandRecord) (*structpb.Struct, error) {
	return structpb.NewStruct(recordFields(r))
}

func historyStruct(records []*alarm.CommandRecord) (*structpb.Struct, error) {
	items := make([]any, 0, len(records))
	for _, r := range records {
		items = append(items, recordFields(r))
	}

	return structpb.NewStruct(map[string]any{"records": items})
}

// ActorStruct builds the actor field of a command request.
func ActorStruct(actor *alarm.Actor) map[string]any {
	if actor == nil {
		return nil
	}

	return map[string]any{
		fieldHostname: actor.Hostname,
		fieldUsername: actor.Username,
	}
}

func actorFrom(req *structpb.Struct) *alarm.Actor {
	value, ok := req.GetFields()[fieldActor]
	if !ok {
		return nil
	}

	fields := value.GetStructValue().GetFields()

	actor := &alarm.Actor{
		Hostname: fields[fieldHostname].GetStringValue(),
		Username: fields[fieldUsername].GetStringValue(),
	}
	if actor.Hostname == "" && actor.Username == "" {
		return nil
	}

	return actor
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}
