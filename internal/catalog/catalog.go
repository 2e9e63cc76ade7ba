// Package catalog holds the static set of pictures children talk about.
package catalog

import (
	"math/rand/v2"
	"sync"
)

// Image is a picture plus the description the AI is given alongside it.
type Image struct {
	URL     string `json:"url"`
	Context string `json:"context"`
}

var defaultImages = []Image{
	{URL: "https://image.tmdb.org/t/p/original/kgwjIb2JDHRhNk13lmSxiClFjc4.jpg", Context: "Frozen - a magical Disney movie with Elsa who has ice powers, Anna her sister, and Olaf the funny snowman"},
	{URL: "https://image.tmdb.org/t/p/original/4JeejGugONWpJkbnvL12hVoYEDa.jpg", Context: "Moana - a brave girl sailing across the ocean with Maui on an amazing adventure"},
	{URL: "https://image.tmdb.org/t/p/original/uXDfjJbdP4ijW5hWSBrPrlKpxab.jpg", Context: "Toy Story - Woody the cowboy and Buzz Lightyear the space ranger, toys that come alive"},
	{URL: "https://image.tmdb.org/t/p/original/eHuGQ10FUzK1mdOY69wF5pGgEf5.jpg", Context: "Finding Nemo - Nemo the clownfish and Dory swimming in the ocean on an underwater adventure"},
	{URL: "https://image.tmdb.org/t/p/original/sgheSKxZkttIe8ONsf2sWXPgip3.jpg", Context: "Monsters Inc. - Sulley the big blue monster and Mike the one-eyed green monster being funny"},
	{URL: "https://image.tmdb.org/t/p/original/wWt4JYXTg5Wr3xBW2phBrMKgp3x.jpg", Context: "Kung Fu Panda - Po the chubby panda learning martial arts and becoming a hero"},
	{URL: "https://image.tmdb.org/t/p/original/hlK0e0wAQ3VLuJcsfIYPvTYaGRV.jpg", Context: "Zootopia - Judy the bunny cop and Nick the fox solving mysteries in an animal city"},
	{URL: "https://image.tmdb.org/t/p/original/ygGmAO60t8GyqUo9UfueKMN8yW.jpg", Context: "How to Train Your Dragon - Hiccup and Toothless the dragon becoming best friends"},
	{URL: "https://image.tmdb.org/t/p/original/sKCr78MXSLixwmZ8DyJLrpMsd15.jpg", Context: "The Lion King - Simba the lion cub growing up to be king of the Pride Lands"},
	{URL: "https://image.tmdb.org/t/p/original/vpbaStTMt8qqXaEgnOR2EE4DNJk.jpg", Context: "Up - an old man flying his house with thousands of colorful balloons on an adventure"},
	{URL: "https://image.tmdb.org/t/p/original/2mxS4wUimwlLmI1xp6QW6NSU361.jpg", Context: "Big Hero 6 - Baymax the big inflatable robot who gives hugs and helps Hiro"},
	{URL: "https://image.tmdb.org/t/p/original/iB64vpL3dIObOtMZgX3RqdVdQDc.jpg", Context: "Shrek - a big green ogre and Donkey going on funny adventures to save Princess Fiona"},
}

// maxPickAttempts bounds the search for a picture different from the current one.
const maxPickAttempts = 10

// Catalog is safe for concurrent use.
type Catalog struct {
	images []Image

	mu  sync.Mutex
	rnd *rand.Rand
}

// Default returns the built-in picture set.
func Default() *Catalog {
	return New(defaultImages, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

func New(images []Image, rnd *rand.Rand) *Catalog {
	cp := make([]Image, len(images))
	copy(cp, images)
	return &Catalog{images: cp, rnd: rnd}
}

func (c *Catalog) Len() int { return len(c.images) }

// At returns the picture at index i.
func (c *Catalog) At(i int) Image { return c.images[i] }

// All returns a copy of every picture.
func (c *Catalog) All() []Image {
	out := make([]Image, len(c.images))
	copy(out, c.images)
	return out
}

// Next picks a random index other than current. Only a single-picture
// catalog returns current.
func (c *Catalog) Next(current int) int {
	n := len(c.images)
	if n <= 1 {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for attempts := 0; attempts < maxPickAttempts; attempts++ {
		if idx := c.rnd.IntN(n); idx != current {
			return idx
		}
	}
	return (current + 1) % n
}
