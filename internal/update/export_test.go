package update

var (
	ParseManifest = parseManifest
	IsNewer       = isNewer
	SafeJoin      = safeJoin
	Swap          = swap
)
