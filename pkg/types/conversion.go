package types

// Mode selects the conversion direction
type Mode string

const (
	// ModeForward converts an EPUB into Markdown plus extracted images
	ModeForward Mode = "forward"
	// ModeReverse converts a ZIP of Markdown plus images into an EPUB
	ModeReverse Mode = "reverse"
)

// DefaultMergeFileName is the merged document name the external tool uses when none is given
const DefaultMergeFileName = "merged.md"

// ConversionOptions are the user-selectable switches for a forward conversion
type ConversionOptions struct {
	Merge         bool   `json:"merge"`
	MergeFileName string `json:"mergeFileName,omitempty"`
	Autocorrect   bool   `json:"autocorrect"`
	Localize      bool   `json:"localize"`
}

// ConversionRequest is created per HTTP call and consumed once
type ConversionRequest struct {
	SourcePath string
	Mode       Mode
	Options    ConversionOptions
	OutputName string // reverse mode: desired EPUB file name
}

// LocationSource records how the output location of the external tool was recovered
type LocationSource string

const (
	LocationMerged    LocationSource = "reported-merged"
	LocationDirectory LocationSource = "reported-directory"
	// LocationDerived means nothing usable was printed and the directory name was guessed
	// from the source file name.
	LocationDerived LocationSource = "derived"
)

// ConversionResult is the outcome of one conversion
type ConversionResult struct {
	ResultID        string         `json:"resultId"`
	OutputDir       string         `json:"-"`
	OutputFile      string         `json:"-"`
	Files           []string       `json:"files"`
	Success         bool           `json:"success"`
	RawOutput       string         `json:"-"`
	Location        LocationSource `json:"location,omitempty"`
	CoverReconciled bool           `json:"coverExtracted"`
}

// Degraded reports whether the output location was guessed rather than reported
func (r *ConversionResult) Degraded() bool {
	return r.Location == LocationDerived
}

// StoredUpload describes an uploaded file after it has been written to the uploads directory
type StoredUpload struct {
	FileName     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Mode         Mode   `json:"mode"`
}
