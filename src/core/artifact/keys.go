package artifact

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// CurrentKeyScheme is the layout version written on newly completed jobs.
const CurrentKeyScheme = 1

const DefaultOutputPrefix = "output/"

var ErrUnknownKeyScheme = errors.New("unknown key scheme")

// Keys are the blob keys produced for one job.
type Keys struct {
	Output           string
	NormalizedInput  string
	NormalizedOutput string
}

// Layout places artifacts under an output prefix.
type Layout struct {
	Prefix string
}

func NewLayout(prefix string) Layout {
	if prefix == "" {
		prefix = DefaultOutputPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return Layout{Prefix: prefix}
}

// KeysFor returns the v1 keys for artifact id.
func (l Layout) KeysFor(id string) Keys {
	return Keys{
		Output:           l.Prefix + id + ".wav",
		NormalizedInput:  l.Prefix + "normalized/input_" + id + ".wav",
		NormalizedOutput: l.Prefix + "normalized/output_" + id + ".wav",
	}
}

// Resolve recovers all keys from a stored output key. The layout is taken
// from the key's own directory, so records written under an earlier prefix
// still resolve. Scheme 0 predates versioning and uses the v1 layout.
func Resolve(outputKey string, scheme int) (Keys, error) {
	switch scheme {
	case 0, 1:
	default:
		return Keys{}, fmt.Errorf("%w: %d", ErrUnknownKeyScheme, scheme)
	}
	var prefix string
	if dir := path.Dir(outputKey); dir != "." {
		prefix = dir + "/"
	}
	id := strings.TrimSuffix(path.Base(outputKey), path.Ext(outputKey))
	keys := Layout{Prefix: prefix}.KeysFor(id)
	keys.Output = outputKey
	return keys, nil
}
