package material

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Kind - 레퍼런스 이미지 입력 형태
type Kind int

const (
	KindUnspecified Kind = iota
	KindInline           // base64 / data URL
	KindURL              // http(s) URL
	KindPreset           // catalog preset by id
	KindRandom           // random preset from a category
)

func (k Kind) String() string {
	switch k {
	case KindInline:
		return "inline"
	case KindURL:
		return "url"
	case KindPreset:
		return "preset"
	case KindRandom:
		return "random"
	default:
		return "unspecified"
	}
}

// Preset categories
const (
	CategoryStudioModels    = "studio-models"
	CategoryBackgrounds     = "backgrounds"
	CategoryLifestyleModels = "lifestyle-models"
	CategoryLifestyleScenes = "lifestyle-scenes"
)

const randomSentinel = "random"

var presetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,127}$`)

// Ref is a logical image reference as received at the API boundary.
// The zero value is Unspecified.
type Ref struct {
	kind     Kind
	value    string
	category string
}

func Unspecified() Ref { return Ref{} }

func Inline(data string) Ref { return Ref{kind: KindInline, value: data} }

func URL(u string) Ref { return Ref{kind: KindURL, value: u} }

func Preset(category, id string) Ref { return Ref{kind: KindPreset, value: id, category: category} }

func Random(category string) Ref { return Ref{kind: KindRandom, category: category} }

func (r Ref) Kind() Kind { return r.kind }

func (r Ref) Value() string { return r.value }

func (r Ref) Category() string { return r.category }

func (r Ref) IsSpecified() bool { return r.kind != KindUnspecified }

// WithCategory binds the preset category used by Random and Preset lookups.
func (r Ref) WithCategory(c string) Ref {
	r.category = c
	return r
}

// Parse classifies a raw string reference.
func Parse(s string) Ref {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return Unspecified()
	case strings.EqualFold(s, randomSentinel):
		return Ref{kind: KindRandom}
	case strings.HasPrefix(s, "data:"):
		return Inline(s)
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return URL(s)
	case presetIDPattern.MatchString(s):
		return Ref{kind: KindPreset, value: s}
	default:
		return Inline(s)
	}
}

// UnmarshalJSON accepts null, booleans and strings.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	category := r.category
	switch v := raw.(type) {
	case nil:
		*r = Unspecified()
	case bool:
		if v {
			*r = Ref{kind: KindRandom}
		} else {
			*r = Unspecified()
		}
	case string:
		*r = Parse(v)
	default:
		return fmt.Errorf("material reference must be a string, boolean or null")
	}
	if category != "" && r.category == "" {
		r.category = category
	}
	return nil
}

// MarshalJSON writes the reference back in its wire form.
func (r Ref) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case KindUnspecified:
		return []byte("null"), nil
	case KindRandom:
		return json.Marshal(randomSentinel)
	default:
		return json.Marshal(r.value)
	}
}

// Describe is a log-safe summary (never includes inline payloads).
func (r Ref) Describe() string {
	switch r.kind {
	case KindInline:
		return fmt.Sprintf("inline(%d chars)", len(r.value))
	case KindURL:
		return "url(" + r.value + ")"
	case KindPreset:
		return fmt.Sprintf("preset(%s/%s)", r.category, r.value)
	case KindRandom:
		return "random(" + r.category + ")"
	default:
		return "unspecified"
	}
}

// Material - 모델 입력으로 바로 쓸 수 있는 이미지
type Material struct {
	Data      []byte
	MIMEType  string
	SourceURL string
}
