package agents

// Worker names.
const (
	Harvester = "HARVESTER"
	Architect = "ARCHITECT"
	Curator   = "CURATOR"
	Critic    = "CRITIC"
	Observer  = "OBSERVER"
)

// Colors are the UI hints reported with each worker's status.
var Colors = map[string]string{
	Harvester: "text-emerald-400",
	Architect: "text-blue-400",
	Curator:   "text-yellow-400",
	Critic:    "text-pink-400",
	Observer:  "text-gray-400",
}
