package post

import "strings"

// WordsPerMinute is the reading speed used for reading-time estimates.
const WordsPerMinute = 200

// WordCount sums the whitespace separated tokens of every heading and body text.
func WordCount(content []Content) int {
	total := 0
	for _, item := range content {
		total += len(strings.Fields(item.Heading))
		for _, block := range item.Body {
			total += len(strings.Fields(block.Text))
		}
	}
	return total
}

// ReadingTime returns the estimated minutes needed to read content, rounded up.
func ReadingTime(content []Content) int {
	words := WordCount(content)
	return (words + WordsPerMinute - 1) / WordsPerMinute
}
