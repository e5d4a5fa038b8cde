package names

import (
	"math/rand/v2"
	"strconv"
)

// Adjectives is the fixed pool of pseudonym prefixes.
var Adjectives = []string{
	"Amber", "Brave", "Calm", "Clever", "Crimson", "Curious", "Daring",
	"Eager", "Fuzzy", "Gentle", "Golden", "Happy", "Hidden", "Jolly",
	"Lucky", "Mellow", "Nimble", "Quiet", "Rapid", "Silent", "Silver",
	"Sleepy", "Sunny", "Swift", "Witty",
}

// Nouns is the fixed pool of pseudonym stems.
var Nouns = []string{
	"Badger", "Comet", "Falcon", "Fox", "Heron", "Lantern", "Lynx",
	"Maple", "Meteor", "Otter", "Panda", "Pebble", "Penguin", "Raven",
	"River", "Sparrow", "Squirrel", "Tiger", "Walrus", "Willow",
}

// Generate returns a fresh display pseudonym of the form
// <Adjective><Noun><1-999>. No uniqueness is enforced against other
// live sessions; two connections may share a pseudonym.
func Generate() string {
	return generate(rand.IntN)
}

// generate builds a pseudonym from an injected integer source so tests
// can pin the choice.
func generate(intN func(n int) int) string {
	adjective := Adjectives[intN(len(Adjectives))]
	noun := Nouns[intN(len(Nouns))]
	number := intN(999) + 1
	return adjective + noun + strconv.Itoa(number)
}
