package ffmpeg

import (
	"regexp"
	"strings"
)

var hexColor = regexp.MustCompile(`^(#|0x)[0-9a-fA-F]{6}([0-9a-fA-F]{2})?$`)

// namedColors is the subset of ffmpeg's colour names accepted from callers.
var namedColors = map[string]struct{}{
	"white": {}, "black": {}, "red": {}, "green": {}, "blue": {}, "yellow": {},
	"cyan": {}, "magenta": {}, "orange": {}, "purple": {}, "pink": {}, "violet": {},
	"gray": {}, "grey": {}, "silver": {}, "gold": {}, "navy": {}, "teal": {},
	"maroon": {}, "olive": {}, "lime": {}, "aqua": {}, "fuchsia": {}, "indigo": {},
	"crimson": {}, "coral": {}, "salmon": {}, "tomato": {}, "turquoise": {}, "skyblue": {},
	"deepskyblue": {}, "dodgerblue": {}, "royalblue": {}, "hotpink": {}, "deeppink": {},
	"orchid": {}, "plum": {}, "lavender": {}, "beige": {}, "ivory": {}, "khaki": {},
	"chartreuse": {}, "springgreen": {}, "seagreen": {}, "darkgray": {}, "darkgrey": {},
	"lightgray": {}, "lightgrey": {}, "dimgray": {}, "dimgrey": {}, "darkblue": {},
	"darkred": {}, "darkgreen": {}, "midnightblue": {}, "slategray": {}, "slategrey": {},
}

// ValidColor reports whether token is a colour ffmpeg accepts and that is
// safe to splice into a filter graph.
func ValidColor(token string) bool {
	if hexColor.MatchString(token) {
		return true
	}
	_, ok := namedColors[strings.ToLower(token)]
	return ok
}
