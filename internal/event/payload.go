package event

import (
	"encoding/json"
	"fmt"
)

// Payload is the typed content of an event, one variant per event type.
// Canonicalization walks the variant's declared field list in a fixed
// order, so two semantically equal payloads always hash identically.
type Payload interface {
	// Kind returns the event type this payload belongs to, or "" for the
	// generic map form.
	Kind() Type

	// canonicalValue returns the payload as an ordered [name, value, ...]
	// list suitable for deterministic encoding.
	canonicalValue() (any, error)
}

// TelemetryPayload carries a single metric sample.
type TelemetryPayload struct {
	Metric  string  `json:"metric"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit,omitempty"`
	Quality string  `json:"quality,omitempty"`
}

func (TelemetryPayload) Kind() Type { return TypeTelemetry }

func (p TelemetryPayload) canonicalValue() (any, error) {
	return []any{"metric", p.Metric, "quality", p.Quality, "unit", p.Unit, "value", p.Value}, nil
}

// AlarmPayload carries an alarm activation or clearance.
type AlarmPayload struct {
	AlarmCode string `json:"alarm_code"`
	Severity  string `json:"severity"`
	Message   string `json:"message,omitempty"`
	Active    bool   `json:"active"`
}

func (AlarmPayload) Kind() Type { return TypeAlarm }

func (p AlarmPayload) canonicalValue() (any, error) {
	return []any{"active", p.Active, "alarm_code", p.AlarmCode, "message", p.Message, "severity", p.Severity}, nil
}

// CommandPayload carries an operator or agent command with its arguments.
type CommandPayload struct {
	Command     string         `json:"command"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
}

func (CommandPayload) Kind() Type { return TypeCommand }

func (p CommandPayload) canonicalValue() (any, error) {
	params, err := normalize(p.Parameters)
	if err != nil {
		return nil, err
	}
	return []any{"command", p.Command, "parameters", params, "requested_by", p.RequestedBy}, nil
}

// AcknowledgementPayload records an alarm acknowledgement.
type AcknowledgementPayload struct {
	AlarmCode string `json:"alarm_code"`
	AckedBy   string `json:"acked_by"`
	Note      string `json:"note,omitempty"`
}

func (AcknowledgementPayload) Kind() Type { return TypeAcknowledgement }

func (p AcknowledgementPayload) canonicalValue() (any, error) {
	return []any{"acked_by", p.AckedBy, "alarm_code", p.AlarmCode, "note", p.Note}, nil
}

// MaintenancePayload records a maintenance action against an asset.
type MaintenancePayload struct {
	WorkOrder  string `json:"work_order"`
	Action     string `json:"action"`
	Technician string `json:"technician,omitempty"`
}

func (MaintenancePayload) Kind() Type { return TypeMaintenance }

func (p MaintenancePayload) canonicalValue() (any, error) {
	return []any{"action", p.Action, "technician", p.Technician, "work_order", p.WorkOrder}, nil
}

// BlueprintChangePayload records a revision to a control blueprint.
type BlueprintChangePayload struct {
	BlueprintID   string `json:"blueprint_id"`
	Revision      int64  `json:"revision"`
	ChangeSummary string `json:"change_summary,omitempty"`
}

func (BlueprintChangePayload) Kind() Type { return TypeBlueprintChange }

func (p BlueprintChangePayload) canonicalValue() (any, error) {
	return []any{"blueprint_id", p.BlueprintID, "change_summary", p.ChangeSummary, "revision", p.Revision}, nil
}

// CodeGenerationPayload records generated PLC code for a blueprint revision.
type CodeGenerationPayload struct {
	BlueprintID  string `json:"blueprint_id"`
	Vendor       string `json:"vendor"`
	ArtifactHash string `json:"artifact_hash"`
}

func (CodeGenerationPayload) Kind() Type { return TypeCodeGeneration }

func (p CodeGenerationPayload) canonicalValue() (any, error) {
	return []any{"artifact_hash", p.ArtifactHash, "blueprint_id", p.BlueprintID, "vendor", p.Vendor}, nil
}

// DeploymentIntentPayload records the intent to deploy generated code.
type DeploymentIntentPayload struct {
	BlueprintID   string `json:"blueprint_id"`
	TargetAssetID string `json:"target_asset_id"`
	ScheduledFor  string `json:"scheduled_for,omitempty"`
}

func (DeploymentIntentPayload) Kind() Type { return TypeDeploymentIntent }

func (p DeploymentIntentPayload) canonicalValue() (any, error) {
	return []any{"blueprint_id", p.BlueprintID, "scheduled_for", p.ScheduledFor, "target_asset_id", p.TargetAssetID}, nil
}

// MapPayload is the generic structured-map form for callers that own their
// payload semantics. Keys are canonicalized with recursive sorting.
type MapPayload map[string]any

func (MapPayload) Kind() Type { return "" }

func (p MapPayload) canonicalValue() (any, error) {
	return normalize(map[string]any(p))
}

// DecodePayload unmarshals raw JSON into the typed payload variant for the
// given event type. Types without a dedicated variant decode as MapPayload.
func DecodePayload(t Type, data []byte) (Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	decode := func(v Payload) (Payload, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return v, nil
	}
	switch t {
	case TypeTelemetry:
		p, err := decode(&TelemetryPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*TelemetryPayload), nil
	case TypeAlarm:
		p, err := decode(&AlarmPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*AlarmPayload), nil
	case TypeCommand:
		p, err := decode(&CommandPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*CommandPayload), nil
	case TypeAcknowledgement:
		p, err := decode(&AcknowledgementPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*AcknowledgementPayload), nil
	case TypeMaintenance:
		p, err := decode(&MaintenancePayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*MaintenancePayload), nil
	case TypeBlueprintChange:
		p, err := decode(&BlueprintChangePayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*BlueprintChangePayload), nil
	case TypeCodeGeneration:
		p, err := decode(&CodeGenerationPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*CodeGenerationPayload), nil
	case TypeDeploymentIntent:
		p, err := decode(&DeploymentIntentPayload{})
		if err != nil {
			return nil, err
		}
		return *p.(*DeploymentIntentPayload), nil
	default:
		var m MapPayload
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return m, nil
	}
}
