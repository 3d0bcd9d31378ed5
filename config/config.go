// Package config loads the YAML file that configures match runs.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brensch/capture/distance"
	"github.com/brensch/capture/layouts"
	"github.com/brensch/capture/logging"
	"github.com/brensch/capture/match"
	"github.com/brensch/capture/rules"
	"gopkg.in/yaml.v3"
)

type File struct {
	Rules    Rules    `yaml:"rules"`
	Match    Match    `yaml:"match"`
	Run      Run      `yaml:"run"`
	Layouts  Layouts  `yaml:"layouts"`
	Output   Output   `yaml:"output"`
	Spectate Spectate `yaml:"spectate"`
	Log      Log      `yaml:"log"`
}

type Rules struct {
	ScaredTime         int     `yaml:"scared_time"`
	KillPoints         int     `yaml:"kill_points"`
	MinFood            int     `yaml:"min_food"`
	CollisionTolerance float64 `yaml:"collision_tolerance"`
	SightRange         int     `yaml:"sight_range"`
	SonarRange         int     `yaml:"sonar_range"`
}

type Match struct {
	Length        int           `yaml:"length"`
	CrashPenalty  int           `yaml:"crash_penalty"`
	MoveWarning   time.Duration `yaml:"move_warning"`
	MoveTimeout   time.Duration `yaml:"move_timeout"`
	MaxWarnings   int           `yaml:"max_warnings"`
	IllegalPolicy string        `yaml:"illegal_policy"`
}

type Run struct {
	Matches  int    `yaml:"matches"`
	Agents   int    `yaml:"agents"`
	Workers  int    `yaml:"workers"`
	Seed     int64  `yaml:"seed"`
	RedTeam  string `yaml:"red_team"`
	BlueTeam string `yaml:"blue_team"`
}

type Layouts struct {
	Name      string   `yaml:"name"`
	Dirs      []string `yaml:"dirs"`
	IndexURLs []string `yaml:"index_urls"`
}

type Output struct {
	ArchiveDir string `yaml:"archive_dir"`
	ReplayLog  string `yaml:"replay_log"`
	ResultsDB  string `yaml:"results_db"`
}

type Spectate struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default is the configuration used when no file is given. Every field a
// file leaves out keeps its value from here.
func Default() File {
	return File{
		Rules: Rules{
			ScaredTime:         rules.DefaultSettings.ScaredTime,
			KillPoints:         rules.DefaultSettings.KillPoints,
			MinFood:            rules.DefaultSettings.MinFood,
			CollisionTolerance: rules.DefaultSettings.CollisionTolerance,
			SightRange:         match.DefaultSettings.SightRange,
			SonarRange:         distance.DefaultSonar.Range,
		},
		Match: Match{
			Length:        match.DefaultSettings.Length,
			CrashPenalty:  match.DefaultSettings.CrashPenalty,
			MoveWarning:   match.DefaultTiming.MoveWarning,
			MoveTimeout:   match.DefaultTiming.MoveTimeout,
			MaxWarnings:   match.DefaultTiming.MaxWarnings,
			IllegalPolicy: string(match.DefaultTiming.Illegal),
		},
		Run: Run{
			Matches:  1,
			Agents:   4,
			Workers:  1,
			Seed:     0,
			RedTeam:  "red",
			BlueTeam: "blue",
		},
		Layouts: Layouts{
			Name: layouts.DefaultName,
			Dirs: []string{"layouts"},
		},
		Output: Output{
			ArchiveDir: "data/archive",
			ReplayLog:  "data/replays.jsonl.zst",
			ResultsDB:  "data/results.db",
		},
		Log: Log{
			Level:  "info",
			Format: logging.FormatText,
		},
	}
}

// Load reads path over the defaults. Unknown keys are an error.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f, err := Parse(raw)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(raw []byte) (File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, err
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) Validate() error {
	var errs []error
	if f.Match.Length <= 0 {
		errs = append(errs, fmt.Errorf("match.length must be positive, got %d", f.Match.Length))
	}
	if f.Match.MoveTimeout <= 0 {
		errs = append(errs, fmt.Errorf("match.move_timeout must be positive, got %s", f.Match.MoveTimeout))
	}
	if f.Match.MoveWarning > f.Match.MoveTimeout {
		errs = append(errs, fmt.Errorf("match.move_warning %s exceeds move_timeout %s", f.Match.MoveWarning, f.Match.MoveTimeout))
	}
	if _, err := match.ParseIllegalPolicy(f.Match.IllegalPolicy); err != nil {
		errs = append(errs, fmt.Errorf("match.illegal_policy: %w", err))
	}
	if f.Rules.CollisionTolerance <= 0 {
		errs = append(errs, fmt.Errorf("rules.collision_tolerance must be positive"))
	}
	if err := (distance.Sonar{Range: f.Rules.SonarRange}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rules.sonar_range: %w", err))
	}
	if f.Run.Agents < 2 {
		errs = append(errs, fmt.Errorf("run.agents must be at least 2, got %d", f.Run.Agents))
	}
	if f.Run.Matches < 0 || f.Run.Workers < 1 {
		errs = append(errs, fmt.Errorf("run.matches must be >= 0 and run.workers >= 1"))
	}
	if _, err := logging.ParseLevel(f.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RuleSettings maps the rules section onto the engine constants.
func (f File) RuleSettings() rules.Settings {
	return rules.Settings{
		ScaredTime:         f.Rules.ScaredTime,
		KillPoints:         f.Rules.KillPoints,
		MinFood:            f.Rules.MinFood,
		CollisionTolerance: f.Rules.CollisionTolerance,
	}
}

func (f File) MatchSettings() match.Settings {
	return match.Settings{
		Length:       f.Match.Length,
		CrashPenalty: f.Match.CrashPenalty,
		SightRange:   f.Rules.SightRange,
		Sonar:        distance.Sonar{Range: f.Rules.SonarRange},
		Rules:        f.RuleSettings(),
	}
}

func (f File) Timing() match.Timing {
	// Validate has already checked the policy.
	p, _ := match.ParseIllegalPolicy(f.Match.IllegalPolicy)
	return match.Timing{
		MoveWarning: f.Match.MoveWarning,
		MoveTimeout: f.Match.MoveTimeout,
		MaxWarnings: f.Match.MaxWarnings,
		Illegal:     p,
	}
}

// Logger builds the configured logger writing to w.
func (f File) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(f.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(w, f.Log.Format, level)
}
