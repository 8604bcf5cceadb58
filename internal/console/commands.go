// Package console provides the interactive line-oriented front end of the
// lobby client: a command parser and registry, and a Console that runs
// commands against a session and prints its events.
package console

// Handler identifiers mapping commands to console actions.
const (
	HandlerDiscover = "discover"
	HandlerRegions  = "regions"
	HandlerSelect   = "select"
	HandlerRooms    = "rooms"
	HandlerCreate   = "create"
	HandlerJoin     = "join"
	HandlerState    = "state"
	HandlerStats    = "stats"
	HandlerHelp     = "help"
	HandlerQuit     = "quit"
)

// Command defines a console command.
type Command struct {
	// Name is the canonical command name.
	Name string
	// Aliases are alternate names for this command.
	Aliases []string
	// Usage shows the argument syntax, empty when the command takes none.
	Usage string
	// Help is the one-line description shown by help.
	Help string
	// Handler maps to the console action.
	Handler string
}

// BuiltinCommands returns all console commands.
func BuiltinCommands() []Command {
	return []Command{
		{Name: "discover", Aliases: []string{"d"}, Help: "Fetch the region list from the name server", Handler: HandlerDiscover},
		{Name: "regions", Aliases: []string{"r"}, Help: "List known regions and their latency", Handler: HandlerRegions},
		{Name: "select", Aliases: []string{"s", "region"}, Usage: "<code>", Help: "Connect to the master server of a region", Handler: HandlerSelect},
		{Name: "rooms", Aliases: []string{"ls"}, Help: "List rooms in the lobby", Handler: HandlerRooms},
		{Name: "create", Aliases: []string{"c", "new"}, Usage: "<name>", Help: "Create a room and join it", Handler: HandlerCreate},
		{Name: "join", Aliases: []string{"j"}, Usage: "<name>", Help: "Join an existing room", Handler: HandlerJoin},
		{Name: "state", Aliases: []string{"st", "status"}, Help: "Show connection state and current room", Handler: HandlerState},
		{Name: "stats", Aliases: []string{"health"}, Help: "Show recorded disconnects, room failures, and region latency", Handler: HandlerStats},
		{Name: "help", Aliases: []string{"h", "?"}, Help: "Show this list", Handler: HandlerHelp},
		{Name: "quit", Aliases: []string{"q", "exit"}, Help: "Leave the client", Handler: HandlerQuit},
	}
}
