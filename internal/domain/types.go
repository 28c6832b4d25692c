package domain

// OutputFormat names one of the supported export formats.
type OutputFormat string

const (
	FormatVTT  OutputFormat = "vtt"
	FormatSRT  OutputFormat = "srt"
	FormatTXT  OutputFormat = "txt"
	FormatJSON OutputFormat = "json"
)

// OutputFormats lists supported formats in menu order.
var OutputFormats = []OutputFormat{FormatVTT, FormatSRT, FormatTXT, FormatJSON}

// LanguageAuto is the language hint that leaves detection to the model.
const LanguageAuto = "Auto"

// Languages lists selectable language hints with Auto first.
var Languages = []string{
	LanguageAuto, "en", "zh", "de", "es", "ru", "ko", "fr", "ja", "pt", "tr", "pl", "ca", "nl",
	"ar", "sv", "it", "id", "hi", "fi", "vi", "he", "uk", "el", "ms", "cs", "ro", "da", "hu",
	"ta", "no", "th", "ur", "hr", "bg", "lt", "la", "mi", "ml", "cy", "sk", "te", "fa", "lv",
	"bn", "sr", "az", "sl", "kn", "et", "mk", "br", "eu", "is", "hy", "ne", "mn", "bs", "kk",
	"sq", "sw", "gl", "mr", "pa", "si", "km", "sn", "yo", "so", "af", "oc", "ka", "be", "tg",
	"sd", "gu", "am", "yi", "lo", "uz", "fo", "ht", "ps", "tk", "nn", "mt", "sa", "lb", "my",
	"bo", "tl", "mg", "as", "tt", "haw", "ln", "ha", "ba", "jw", "su",
}

// SessionStatus is the lifecycle state of the transcription coordinator.
type SessionStatus string

const (
	SessionStatusIdle    SessionStatus = "idle"
	SessionStatusRunning SessionStatus = "running"
)

// Settings contains the last-used user selections, persisted between runs.
type Settings struct {
	Model     string       `json:"model"`
	Language  string       `json:"language"`
	Format    OutputFormat `json:"format"`
	ModelsDir string       `json:"modelsDir"`
}

// SessionInfo is a snapshot of the coordinator state for the UI.
type SessionInfo struct {
	ID        string        `json:"id,omitempty"`
	Status    SessionStatus `json:"status"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
}

// QueueInfo describes the files waiting to be transcribed.
type QueueInfo struct {
	Files     []string `json:"files"`
	Pending   int      `json:"pending"`
	Completed int      `json:"completed"`
}
