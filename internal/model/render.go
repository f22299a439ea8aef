package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Form defaults, matching the upload page.
const (
	DefaultStyle      = StyleWave
	DefaultResolution = "1280x720"
	DefaultFPS        = 25
	DefaultColor      = "white"
	DefaultMode       = WaveModeLine
	DefaultBackground = "black"
)

// RenderParams is the immutable snapshot of everything that determines the
// rendered video. It is owned by exactly one Job.
type RenderParams struct {
	Style          Style
	Width          int
	Height         int
	FPS            int
	Mode           WaveMode
	Color          string
	SecondaryColor string
	Background     string
	Colors         []string
	Start          *float64
	Duration       *float64
	Normalize      bool
	HasCover       bool
}

// Clone returns a deep copy so callers cannot reach into another owner's slices or pointers.
func (p RenderParams) Clone() RenderParams {
	out := p
	if p.Colors != nil {
		out.Colors = append([]string(nil), p.Colors...)
	}
	if p.Start != nil {
		v := *p.Start
		out.Start = &v
	}
	if p.Duration != nil {
		v := *p.Duration
		out.Duration = &v
	}
	return out
}

// Resolution renders the WxH token.
func (p RenderParams) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// RenderForm holds the raw render options of an upload request.
type RenderForm struct {
	Style          string   `json:"style" validate:"required,oneof=wave spectrum ripple siri"`
	Resolution     string   `json:"resolution" validate:"required,resolution"`
	FPS            int      `json:"fps" validate:"required,oneof=15 24 25 30 50 60"`
	Mode           string   `json:"mode" validate:"required,oneof=point line p2p cline"`
	Color          string   `json:"color" validate:"required,max=32"`
	SecondaryColor string   `json:"secondary_color" validate:"omitempty,max=32"`
	Colors         []string `json:"colors" validate:"max=4,dive,required,max=32"`
	Background     string   `json:"background" validate:"required,max=32"`
	Start          *float64 `json:"start" validate:"omitempty,gte=0"`
	Duration       *float64 `json:"duration" validate:"omitempty,gt=0"`
	Normalize      bool     `json:"normalize"`
}

// FieldError reports a form value that could not be parsed at all.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseRenderForm reads render options through get, applying the form
// defaults for anything left blank.
func ParseRenderForm(get func(key string) string) (*RenderForm, error) {
	form := &RenderForm{
		Style:          valueOr(get("style"), string(DefaultStyle)),
		Resolution:     strings.ToLower(valueOr(get("resolution"), DefaultResolution)),
		FPS:            DefaultFPS,
		Mode:           valueOr(get("mode"), string(DefaultMode)),
		Color:          valueOr(get("color"), DefaultColor),
		SecondaryColor: strings.TrimSpace(get("secondary_color")),
		Colors:         ParseColorList(get("colors")),
		Background:     valueOr(get("background"), DefaultBackground),
	}

	if raw := strings.TrimSpace(get("fps")); raw != "" {
		fps, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &FieldError{Field: "fps", Message: "must be an integer"}
		}
		form.FPS = fps
	}

	var err error
	if form.Start, err = parseSeconds("start", get("start")); err != nil {
		return nil, err
	}
	if form.Duration, err = parseSeconds("duration", get("duration")); err != nil {
		return nil, err
	}
	if form.Normalize, err = parseFlag("normalize", get("normalize")); err != nil {
		return nil, err
	}

	return form, nil
}

// Params converts a validated form into render parameters.
func (f *RenderForm) Params(hasCover bool) (RenderParams, error) {
	w, h, err := ParseResolution(f.Resolution)
	if err != nil {
		return RenderParams{}, &FieldError{Field: "resolution", Message: err.Error()}
	}

	p := RenderParams{
		Style:          Style(f.Style),
		Width:          w,
		Height:         h,
		FPS:            f.FPS,
		Mode:           WaveMode(f.Mode),
		Color:          f.Color,
		SecondaryColor: f.SecondaryColor,
		Background:     f.Background,
		Start:          f.Start,
		Duration:       f.Duration,
		Normalize:      f.Normalize,
		HasCover:       hasCover,
	}
	if p.Style == StyleSiri {
		p.Colors = f.Colors
	}

	return p.Clone(), nil
}

// ParseResolution parses a "WxH" token.
func ParseResolution(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q", s)
	}
	return w, h, nil
}

// ParseColorList splits a comma- or pipe-separated colour list, dropping blanks.
func ParseColorList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RegisterValidations installs the custom tags used by RenderForm.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("resolution", func(fl validator.FieldLevel) bool {
		_, _, err := ParseResolution(fl.Field().String())
		return err == nil
	})
}

func valueOr(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func parseSeconds(field, raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &FieldError{Field: field, Message: "must be a number of seconds"}
	}
	return &v, nil
}

func parseFlag(field, raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "0", "false", "off", "no":
		return false, nil
	case "1", "true", "on", "yes":
		return true, nil
	}
	return false, &FieldError{Field: field, Message: "must be a boolean"}
}
