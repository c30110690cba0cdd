package loader

var (
	EncodeCopyCSV = encodeCopyCSV
	BuildInsert   = buildInsert
)
