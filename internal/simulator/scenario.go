package simulator

import (
	"fmt"
	"time"

	"gosuda.org/vitalink/internal/protocol"
)

// Scenario steers the vitals walk toward a clinical picture.
type Scenario string

const (
	// ScenarioNone leaves the walk unsteered.
	ScenarioNone     Scenario = ""
	ScenarioNormal   Scenario = "normal"
	ScenarioWarning  Scenario = "warning"
	ScenarioCritical Scenario = "critical"
	// ScenarioDemo cycles normal, critical and warning, one phase each.
	ScenarioDemo Scenario = "demo"
)

// DefaultScenarioPhase is how long the demo holds each picture.
const DefaultScenarioPhase = 10 * time.Second

var targets = map[Scenario]protocol.Vitals{
	ScenarioNormal:   {HeartRate: 72, SpO2: 98, RespRate: 16},
	ScenarioWarning:  {HeartRate: 118, SpO2: 91, RespRate: 24},
	ScenarioCritical: {HeartRate: 148, SpO2: 86, RespRate: 29},
}

var demo = [...]Scenario{ScenarioNormal, ScenarioCritical, ScenarioWarning}

// Scenarios lists the names ParseScenario accepts.
func Scenarios() []string {
	return []string{string(ScenarioNormal), string(ScenarioWarning), string(ScenarioCritical), string(ScenarioDemo)}
}

// ParseScenario parses a scenario name. The empty string is ScenarioNone.
func ParseScenario(s string) (Scenario, error) {
	switch sc := Scenario(s); sc {
	case ScenarioNone, ScenarioNormal, ScenarioWarning, ScenarioCritical, ScenarioDemo:
		return sc, nil
	}
	return ScenarioNone, fmt.Errorf("simulator: unknown scenario %q", s)
}

// Target returns the vitals the scenario steers toward. Demo and None have no
// fixed target.
func (sc Scenario) Target() (protocol.Vitals, bool) {
	v, ok := targets[sc]
	return v, ok
}

// At resolves the scenario in effect after elapsed time. Only Demo changes over
// time.
func (sc Scenario) At(elapsed, phase time.Duration) Scenario {
	if sc != ScenarioDemo {
		return sc
	}
	if phase <= 0 {
		phase = DefaultScenarioPhase
	}
	return demo[int(elapsed/phase)%len(demo)]
}
