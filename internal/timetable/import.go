package timetable

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"timetabled/internal/domain"
)

// ImportFile is the YAML layout accepted by the bulk importer:
//
//	sessions:
//	  - unit: Mathematics
//	    day: monday
//	    start_time: "09:00"
//	    end_time: "11:00"
type ImportFile struct {
	Sessions []ImportSession `yaml:"sessions"`
}

type ImportSession struct {
	Unit      string           `yaml:"unit"`
	Day       string           `yaml:"day"`
	StartTime domain.TimeOfDay `yaml:"start_time"`
	EndTime   domain.TimeOfDay `yaml:"end_time"`
}

// DecodeImport parses and validates a timetable file.
func DecodeImport(r io.Reader) ([]domain.ClassSession, error) {
	var f ImportFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode timetable: %w", err)
	}

	sessions := make([]domain.ClassSession, 0, len(f.Sessions))
	for i, s := range f.Sessions {
		cs := domain.ClassSession{Unit: s.Unit, Day: s.Day, StartTime: s.StartTime, EndTime: s.EndTime}
		if err := cs.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		sessions = append(sessions, cs)
	}
	return sessions, nil
}
