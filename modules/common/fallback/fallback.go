package fallback

import "strings"

// DefaultInstructions is used when the shooting-instruction step degrades.
const DefaultInstructions = `Composition: full-body or three-quarter framing, subject centered with natural headroom.
Pose: relaxed, confident stance that shows the garment's fit and drape; hands visible and natural.
Lighting: soft key light from the front-left, gentle fill, subtle rim light to separate subject from background.
Camera: 85mm portrait lens look, f/4, eye-level, sharp focus on the garment.
Mood: clean, premium e-commerce editorial.`

// SafeString returns a trimmed string or the provided fallback.
func SafeString(value interface{}, fallback string) string {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s != "" {
			return s
		}
	}
	return fallback
}

// SafeAspectRatio provides a sane default aspect ratio for fashion shots.
func SafeAspectRatio(value interface{}) string {
	return SafeString(value, "3:4")
}

// PadIDs keeps the valid chosen ids (in order) and fills up to n from pool,
// cycling when the pool is shorter than n.
func PadIDs(chosen []string, pool []string, n int) []string {
	valid := make(map[string]bool, len(pool))
	for _, id := range pool {
		valid[id] = true
	}

	out := make([]string, 0, n)
	for _, id := range chosen {
		if len(out) == n {
			break
		}
		if valid[id] {
			out = append(out, id)
		}
	}
	for i := 0; len(out) < n && len(pool) > 0; i++ {
		out = append(out, pool[i%len(pool)])
	}
	return out
}
