package model

type Category string

const (
	CategoryVoiceover Category = "VOICEOVER"
	CategoryMusic     Category = "MUSIC"
	CategoryPodcast   Category = "PODCAST"
	CategoryMixing    Category = "MIXING"
	CategoryMastering Category = "MASTERING"
	CategoryRehearsal Category = "REHEARSAL"
)

// Categories lists every listing category in display order.
var Categories = []Category{
	CategoryMusic,
	CategoryPodcast,
	CategoryMixing,
	CategoryMastering,
	CategoryRehearsal,
	CategoryVoiceover,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}
