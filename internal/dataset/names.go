package dataset

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackzampolin/papershelf/internal/types"
)

// ErrBadName is returned for file names outside the dataset layout.
var ErrBadName = errors.New("not a dataset resource name")

// ManifestName is the per-document completion marker, written last.
const ManifestName = "manifest.json"

const (
	pageWidth     = 8
	textExt       = ".txt"
	sidecarSuffix = "-media.json"
)

// Resource classifies a file in a document directory.
type Resource int

const (
	ResourceText Resource = iota
	ResourceMedia
	ResourceSidecar
	ResourceManifest
)

func (r Resource) String() string {
	switch r {
	case ResourceText:
		return "text"
	case ResourceMedia:
		return "media"
	case ResourceSidecar:
		return "sidecar"
	case ResourceManifest:
		return "manifest"
	default:
		return "unknown"
	}
}

// Name is a decoded resource file name.
type Name struct {
	Resource Resource
	Page     int
	ID       types.Identifier // media only
	Ext      string           // media only, without dot
}

// String encodes n back into a file name.
func (n Name) String() string {
	switch n.Resource {
	case ResourceText:
		return TextName(n.Page)
	case ResourceMedia:
		return MediaName(n.Page, n.ID, n.Ext)
	case ResourceSidecar:
		return SidecarName(n.Page)
	default:
		return ManifestName
	}
}

// TextName returns "<page>.txt" with the page index zero-padded to 8 digits.
func TextName(page int) string {
	return fmt.Sprintf("%0*d%s", pageWidth, page, textExt)
}

// MediaName returns "<page>-<identifier>.<ext>".
func MediaName(page int, id types.Identifier, ext string) string {
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%0*d-%s.%s", pageWidth, page, id, ext)
}

// SidecarName returns "<page>-media.json".
func SidecarName(page int) string {
	return fmt.Sprintf("%0*d%s", pageWidth, page, sidecarSuffix)
}

// ParseName decodes a resource file name. Errors wrap ErrBadName.
func ParseName(name string) (Name, error) {
	if name == ManifestName {
		return Name{Resource: ResourceManifest}, nil
	}
	if len(name) <= pageWidth {
		return Name{}, badName(name, "too short")
	}
	page, err := strconv.Atoi(name[:pageWidth])
	if err != nil || page < 0 || strings.ContainsAny(name[:pageWidth], "+-") {
		return Name{}, badName(name, "page index is not 8 digits")
	}
	rest := name[pageWidth:]

	switch {
	case rest == textExt:
		return Name{Resource: ResourceText, Page: page}, nil
	case rest == sidecarSuffix:
		return Name{Resource: ResourceSidecar, Page: page}, nil
	case strings.HasPrefix(rest, "-"):
		dot := strings.LastIndexByte(rest, '.')
		if dot <= 1 || dot == len(rest)-1 {
			return Name{}, badName(name, "media name needs an identifier and extension")
		}
		raw, ext := rest[1:dot], rest[dot+1:]
		kind, number, err := types.ParseIdentifier(raw)
		if err != nil {
			return Name{}, badName(name, err.Error())
		}
		return Name{Resource: ResourceMedia, Page: page, ID: types.NewIdentifier(kind, number), Ext: ext}, nil
	default:
		return Name{}, badName(name, "unknown suffix")
	}
}

func badName(name, reason string) error {
	return fmt.Errorf("%w: %q: %s", ErrBadName, name, reason)
}
