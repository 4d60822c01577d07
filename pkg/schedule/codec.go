package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Wire is the persisted shape of a record. Field names are shared with schedule
// files written by earlier tools and must not change.
type Wire struct {
	Type      string   `json:"type" yaml:"type" validate:"required,oneof=recurring one_time"`
	Name      string   `json:"name" yaml:"name"`
	IsRuleSet bool     `json:"is_ruleset" yaml:"is_ruleset"`
	Action    string   `json:"action,omitempty" yaml:"action,omitempty" validate:"omitempty,oneof=allow block"`
	Days      []string `json:"days,omitempty" yaml:"days,omitempty" validate:"dive,required"`
	Start     string   `json:"start,omitempty" yaml:"start,omitempty" validate:"required_if=Type recurring"`
	End       string   `json:"end,omitempty" yaml:"end,omitempty" validate:"required_if=Type recurring"`
	ExpireAt  string   `json:"expire_at,omitempty" yaml:"expire_at,omitempty" validate:"required_if=Type one_time"`

	DetailRS   string `json:"detail_rs,omitempty" yaml:"detail_rs,omitempty"`
	DetailSrc  string `json:"detail_src,omitempty" yaml:"detail_src,omitempty"`
	DetailDst  string `json:"detail_dst,omitempty" yaml:"detail_dst,omitempty"`
	DetailSvc  string `json:"detail_svc,omitempty" yaml:"detail_svc,omitempty"`
	DetailName string `json:"detail_name,omitempty" yaml:"detail_name,omitempty"`
}

var wireValidator = validator.New()

// ToWire converts a record to its persisted shape.
func (r *Record) ToWire() Wire {
	w := Wire{
		Name:       r.Name,
		IsRuleSet:  r.IsRuleSet,
		DetailRS:   r.Detail.RuleSet,
		DetailSrc:  r.Detail.Source,
		DetailDst:  r.Detail.Destination,
		DetailSvc:  r.Detail.Service,
		DetailName: r.Detail.Name,
	}
	switch s := r.Spec.(type) {
	case *Recurring:
		w.Type = string(KindRecurring)
		w.Action = string(s.Action)
		w.Days = DayNames(s.Days)
		w.Start = s.Start.String()
		w.End = s.End.String()
	case *OneTime:
		w.Type = string(KindOneTime)
		w.ExpireAt = FormatExpiry(s.ExpireAt)
	}
	return w
}

// FromWire parses and validates a persisted record.
func FromWire(w Wire) (*Record, error) {
	if err := wireValidator.Struct(w); err != nil {
		return nil, fromValidatorError(err)
	}

	var (
		rec *Record
		err error
	)
	switch Kind(w.Type) {
	case KindRecurring:
		rec, err = NewRecurring(w.Name, w.IsRuleSet, w.Action, w.Days, w.Start, w.End)
	case KindOneTime:
		rec, err = NewOneTime(w.Name, w.IsRuleSet, w.ExpireAt)
	default:
		err = invalid("type", fmt.Sprintf("unknown schedule type %q", w.Type))
	}
	if err != nil {
		return nil, err
	}

	rec.Detail = Detail{
		RuleSet:     w.DetailRS,
		Source:      w.DetailSrc,
		Destination: w.DetailDst,
		Service:     w.DetailSvc,
		Name:        w.DetailName,
	}
	return rec, nil
}

func fromValidatorError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(strings.ToLower(fe.Field()), fmt.Sprintf("failed %q check", fe.Tag()))
	}
	return invalid("", err.Error())
}

// MarshalJSON encodes the record in its persisted shape.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToWire())
}

// UnmarshalJSON decodes and validates a record in its persisted shape.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	rec, err := FromWire(w)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

// Document is the schedule file: a map from href to record.
type Document map[string]*Record

// Hrefs returns the document keys in sorted order.
func (d Document) Hrefs() []string {
	out := make([]string, 0, len(d))
	for href := range d {
		out = append(out, href)
	}
	sort.Strings(out)
	return out
}

// ReadDocument decodes a schedule file. An empty input yields an empty document.
func ReadDocument(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule document: %w", err)
	}
	doc := Document{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse schedule document: %w", err)
	}
	for href, msg := range raw {
		rec := &Record{}
		if err := json.Unmarshal(msg, rec); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", href, err)
		}
		doc[href] = rec
	}
	return doc, nil
}

// WriteJSON writes the document in the persisted JSON shape.
func (d Document) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]*Record(d)); err != nil {
		return fmt.Errorf("failed to encode schedule document: %w", err)
	}
	return nil
}

// WriteYAML writes the document as YAML with the same field names.
func (d Document) WriteYAML(w io.Writer) error {
	out := make(map[string]Wire, len(d))
	for href, rec := range d {
		out[href] = rec.ToWire()
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode schedule document: %w", err)
	}
	return enc.Close()
}
