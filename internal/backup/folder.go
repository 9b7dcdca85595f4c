package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Spanish weekday and month labels used in backup folder names. Folder
// names are looked up by string match, never parsed. The labels must stay
// fixed: a renamed label would orphan every folder created under the old
// one.
var weekdaysES = [...]string{"Lunes", "Martes", "Miercoles", "Jueves", "Viernes", "Sabado", "Domingo"}
var monthsES = [...]string{"", "Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio",
	"Julio", "Agosto", "Septiembre", "Octubre", "Noviembre", "Diciembre"}

var modeLabels = map[Mode]string{
	Full:         "Completo",
	Incremental:  "Incremental",
	Differential: "Diferencial",
}

// FolderName generates the deterministic backup folder name for mode at
// wall-clock t: <ModeLabel>_<Weekday>_<Day>_<Month>_<HHMM>.
func FolderName(mode Mode, t time.Time) string {
	label, ok := modeLabels[mode]
	if !ok {
		label = string(mode)
	}
	// time.Weekday is Sunday=0..Saturday=6; the label table is Monday-first.
	weekdayIndex := (int(t.Weekday()) + 6) % 7
	return fmt.Sprintf("%s_%s_%d_%s_%s", label, weekdaysES[weekdayIndex], t.Day(), monthsES[t.Month()], t.Format("1504"))
}

// Disambiguate returns name unchanged if <destRoot>/<name> does not yet
// exist, otherwise appends a numeric suffix (_2, _3, ...) until it finds a
// name that doesn't collide. This resolves the minute-precision
// folder-name uniqueness gap: two manually triggered backups in the same
// minute no longer collide silently.
func Disambiguate(destRoot, name string) (string, error) {
	candidate := name
	for i := 2; ; i++ {
		path := filepath.Join(destRoot, candidate)
		_, err := os.Stat(path)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("backup: stat %s: %w", path, err)
		}
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
}
