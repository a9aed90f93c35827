package lifestyle

import "strings"

// FilterScenes narrows the scene table for a product tag, relaxing in three steps:
// outfit type + every category, outfit type + primary category, outfit type only.
// It returns the rung that matched (1-3) or 0 with no scenes.
func FilterScenes(tag ProductTag, scenes []SceneTag) ([]SceneTag, int) {
	outfit := normalize(tag.OutfitType)
	if outfit == "" {
		return nil, 0
	}

	byOutfit := make([]SceneTag, 0, len(scenes))
	for _, s := range scenes {
		if contains(s.OutfitTypes, outfit) {
			byOutfit = append(byOutfit, s)
		}
	}
	if len(byOutfit) == 0 {
		return nil, 0
	}

	if exact := filter(byOutfit, func(s SceneTag) bool { return exactMatch(tag, s) }); len(exact) > 0 {
		return exact, 1
	}

	primary, field := tag.primaryCategory()
	if primary != "" {
		if relaxed := filter(byOutfit, func(s SceneTag) bool { return contains(field(s), primary) }); len(relaxed) > 0 {
			return relaxed, 2
		}
	}

	return byOutfit, 3
}

func exactMatch(tag ProductTag, s SceneTag) bool {
	switch normalize(tag.OutfitType) {
	case OutfitOnePiece:
		return tag.OnepieceCategory != "" && contains(s.OnepieceCategories, tag.OnepieceCategory)
	case OutfitTwoPiece:
		return tag.UpperCategory != "" && tag.LowerCategory != "" &&
			contains(s.UpperCategories, tag.UpperCategory) && contains(s.LowerCategories, tag.LowerCategory)
	case OutfitBottomOnly:
		return tag.LowerCategory != "" && contains(s.LowerCategories, tag.LowerCategory)
	default:
		return tag.UpperCategory != "" && contains(s.UpperCategories, tag.UpperCategory)
	}
}

// FilterModels keeps models of the product's gender; unknown gender keeps all.
func FilterModels(tag ProductTag, models []ModelEntry) []ModelEntry {
	gender := normalize(tag.Gender)
	if gender == "" || gender == "unisex" {
		return models
	}
	out := make([]ModelEntry, 0, len(models))
	for _, m := range models {
		if normalize(m.Gender) == gender {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return models
	}
	return out
}

func filter(scenes []SceneTag, keep func(SceneTag) bool) []SceneTag {
	var out []SceneTag
	for _, s := range scenes {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	v = normalize(v)
	for _, item := range list {
		if normalize(item) == v {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(strings.ReplaceAll(s, "-", "_"), " ", "_")
}
