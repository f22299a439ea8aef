// Package ffmpeg compiles render parameters into an ffmpeg invocation and
// runs it. Build is pure: equal requests always produce identical commands,
// so a job's command line can be reproduced from its parameters at any time.
package ffmpeg

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wavecast/api/internal/model"
)

// DefaultBinary is the executable used when a Request names none.
const DefaultBinary = "ffmpeg"

// Primitive names the visualisation filter a command is built around.
type Primitive string

const (
	PrimitiveWaveform Primitive = "showwaves"
	PrimitiveSpectrum Primitive = "showspectrum"
)

// Output encoding, independent of the source container.
const (
	videoCodec   = "libx264"
	videoPreset  = "veryfast"
	pixelFormat  = "yuv420p"
	audioCodec   = "aac"
	audioBitrate = "192k"
	container    = "mp4"

	minDimension = 16
	maxDimension = 4096
)

// Request is everything Build needs: the parameter snapshot plus the job's file locations.
type Request struct {
	Binary     string
	Params     model.RenderParams
	InputPath  string
	CoverPath  string
	OutputPath string
}

// Command is a fully resolved ffmpeg invocation.
type Command struct {
	Binary    string
	Primitive Primitive
	Graph     string
	Args      []string
}

// String renders the command as a copy-pasteable shell line.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, shellQuote(c.Binary))
	for _, a := range c.Args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// ConfigError means the parameters cannot be mapped onto a command. It is
// the caller's fault and is always raised before anything is spawned.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid render config: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid render config: %s %q: %s", e.Field, e.Value, e.Reason)
}

// Build compiles req into an ffmpeg command.
func Build(req Request) (*Command, error) {
	p := req.Params
	if err := validate(p); err != nil {
		return nil, err
	}
	if req.InputPath == "" {
		return nil, &ConfigError{Field: "input", Reason: "audio input path is required"}
	}
	if req.OutputPath == "" {
		return nil, &ConfigError{Field: "output", Reason: "output path is required"}
	}
	if p.HasCover && req.CoverPath == "" {
		return nil, &ConfigError{Field: "cover", Reason: "cover image path is required"}
	}

	binary := req.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	res := p.Resolution()
	fps := strconv.Itoa(p.FPS)
	audioIn := "[0:a]"
	if p.Normalize {
		audioIn += "loudnorm,"
	}

	var (
		chains    []string
		fg        = "fg"
		position  string
		primitive = PrimitiveWaveform
	)

	switch p.Style {
	case model.StyleWave:
		chains = append(chains, audioIn+showwaves(res, p.Mode, fps, waveColors(p))+"[fg]")

	case model.StyleRipple:
		side := min(p.Width, p.Height) &^ 1
		square := fmt.Sprintf("%dx%d", side, side)
		chains = append(chains, fmt.Sprintf("%s%s,format=rgba,v360=input=rectilinear:output=ball:w=%d:h=%d,gblur=sigma=2[fg]",
			audioIn, showwaves(square, p.Mode, fps, waveColors(p)), side, side))
		position = "x=(W-w)/2:y=(H-h)/2:"

	case model.StyleSpectrum:
		primitive = PrimitiveSpectrum
		chains = append(chains, fmt.Sprintf("%sshowspectrum=s=%s:mode=combined:color=intensity:slide=scroll:win_func=hann:rotation=0,fps=%s,format=rgba,colorkey=black:0.01:0[fg]",
			audioIn, res, fps))

	case model.StyleSiri:
		var split strings.Builder
		split.WriteString(audioIn)
		split.WriteString("asplit=" + strconv.Itoa(model.SiriColorCount))
		for i := range p.Colors {
			fmt.Fprintf(&split, "[a%d]", i)
		}
		chains = append(chains, split.String())

		for i, c := range p.Colors {
			chains = append(chains, fmt.Sprintf("[a%d]%s,format=rgba,colorchannelmixer=aa=0.7,gblur=sigma=1.5[w%d]",
				i, showwaves(res, model.WaveModeCLine, fps, c), i))
		}
		current := "w0"
		for i := 1; i < len(p.Colors); i++ {
			mixed := fmt.Sprintf("mix%d", i)
			chains = append(chains, fmt.Sprintf("[%s][w%d]overlay=format=auto:shortest=1[%s]", current, i, mixed))
			current = mixed
		}
		fg = current
	}

	chains = append(chains, fmt.Sprintf("color=c=%s:s=%s:r=%s[bg]", p.Background, res, fps))
	base := "bg"
	if p.HasCover {
		chains = append(chains,
			fmt.Sprintf("[1:v]scale=%d:%d,setsar=1[cover]", p.Width, p.Height),
			"[bg][cover]overlay=format=auto[base]",
		)
		base = "base"
	}
	chains = append(chains, fmt.Sprintf("[%s][%s]overlay=%sformat=auto:shortest=1[outv]", base, fg, position))
	graph := strings.Join(chains, ";")

	args := []string{"-hide_banner", "-loglevel", "error", "-y"}
	if p.Start != nil {
		args = append(args, "-ss", formatSeconds(*p.Start))
	}
	if p.Duration != nil {
		args = append(args, "-t", formatSeconds(*p.Duration))
	}
	args = append(args, "-i", req.InputPath)
	if p.HasCover {
		args = append(args, "-loop", "1", "-i", req.CoverPath)
	}
	args = append(args,
		"-filter_complex", graph,
		"-map", "[outv]",
		"-map", "0:a",
		"-c:v", videoCodec,
		"-preset", videoPreset,
		"-pix_fmt", pixelFormat,
		"-r", fps,
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
		"-shortest",
		"-f", container,
		req.OutputPath,
	)

	return &Command{
		Binary:    binary,
		Primitive: primitive,
		Graph:     graph,
		Args:      args,
	}, nil
}

func showwaves(size string, mode model.WaveMode, fps, colors string) string {
	opts := []string{"s=" + size, "mode=" + string(mode), "rate=" + fps}
	if strings.Contains(colors, "|") {
		opts = append(opts, "split_channels=1")
	}
	opts = append(opts, "colors="+colors)
	return "showwaves=" + strings.Join(opts, ":")
}

func waveColors(p model.RenderParams) string {
	if p.SecondaryColor != "" {
		return p.Color + "|" + p.SecondaryColor
	}
	return p.Color
}

func validate(p model.RenderParams) error {
	if !p.Style.Valid() {
		return &ConfigError{Field: "style", Value: string(p.Style), Reason: "unknown style"}
	}
	if p.Width < minDimension || p.Height < minDimension || p.Width > maxDimension || p.Height > maxDimension {
		return &ConfigError{Field: "resolution", Value: p.Resolution(),
			Reason: fmt.Sprintf("dimensions must be between %d and %d", minDimension, maxDimension)}
	}
	if p.Width%2 != 0 || p.Height%2 != 0 {
		return &ConfigError{Field: "resolution", Value: p.Resolution(), Reason: "dimensions must be even"}
	}
	if !model.ValidFrameRate(p.FPS) {
		return &ConfigError{Field: "fps", Value: strconv.Itoa(p.FPS), Reason: "unsupported frame rate"}
	}
	if err := checkColor("background", p.Background); err != nil {
		return err
	}

	switch p.Style {
	case model.StyleWave, model.StyleRipple:
		if !p.Mode.Valid() {
			return &ConfigError{Field: "mode", Value: string(p.Mode), Reason: "unknown waveform mode"}
		}
		if err := checkColor("color", p.Color); err != nil {
			return err
		}
		if p.SecondaryColor != "" {
			if err := checkColor("secondary_color", p.SecondaryColor); err != nil {
				return err
			}
		}
	case model.StyleSiri:
		if len(p.Colors) != model.SiriColorCount {
			return &ConfigError{Field: "colors", Value: strings.Join(p.Colors, ","),
				Reason: fmt.Sprintf("siri style requires exactly %d colors, got %d", model.SiriColorCount, len(p.Colors))}
		}
		for _, c := range p.Colors {
			if err := checkColor("colors", c); err != nil {
				return err
			}
		}
	}

	if p.Start != nil && !(*p.Start >= 0 && !math.IsInf(*p.Start, 0)) {
		return &ConfigError{Field: "start", Value: formatSeconds(*p.Start), Reason: "must be a finite, non-negative offset"}
	}
	if p.Duration != nil && !(*p.Duration > 0 && !math.IsInf(*p.Duration, 0)) {
		return &ConfigError{Field: "duration", Value: formatSeconds(*p.Duration), Reason: "must be a finite, positive length"}
	}
	return nil
}

func checkColor(field, token string) error {
	if !ValidColor(token) {
		return &ConfigError{Field: field, Value: token, Reason: "unknown color"}
	}
	return nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		return !(r == '-' || r == '_' || r == '.' || r == '/' || r == ':' || r == '+' || r == '=' || r == ',' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
