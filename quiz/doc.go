// Package quiz holds the game session core of the map quiz.
//
// How to play
// - The player is shown a world map with every country outlined, but unnamed
// - They type country names; exact names and well-known aliases are accepted
// - Correct guesses light up the country and are added to the found list
// - The round ends when every country is found, or when the clock runs out
//
// Implementation details:
// - Resolver turns free text into a canonical country name
// - Session owns the clock and the found set, and reports to an Observer
// - Nothing in here schedules itself; the host calls Tick once per second
package quiz
