package presence

import "hash/fnv"

// palette is the fixed set of collaborator colors. Assignment hashes the
// user id so the same user shows the same color across sessions and clients
// without any coordination.
var palette = []string{
	"#ef4444", // red
	"#f97316", // orange
	"#eab308", // yellow
	"#22c55e", // green
	"#14b8a6", // teal
	"#0ea5e9", // sky
	"#6366f1", // indigo
	"#a855f7", // purple
	"#ec4899", // pink
	"#78716c", // stone
}

// ColorFor deterministically assigns a palette color to a user id.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}
