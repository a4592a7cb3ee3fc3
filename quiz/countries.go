/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package quiz

// DefaultAliases maps common nicknames to the canonical (lowercased) name used
// by the country dataset.
//
// "congo" and "drc" deliberately point at two different countries.
var DefaultAliases = map[string]string{
	"usa":                "united states of america",
	"us":                 "united states of america",
	"america":            "united states of america",
	"uk":                 "united kingdom",
	"uae":                "united arab emirates",
	"drc":                "democratic republic of the congo",
	"dr congo":           "democratic republic of the congo",
	"dem rep congo":      "democratic republic of the congo",
	"congo-kinshasa":     "democratic republic of the congo",
	"congo":              "republic of the congo",
	"congo-brazzaville":  "republic of the congo",
	"russia":             "russian federation",
	"south korea":        "republic of korea",
	"north korea":        "democratic people's republic of korea",
	"czech republic":     "czechia",
	"holland":            "netherlands",
	"burma":              "myanmar",
	"ivory coast":        "côte d'ivoire",
	"cape verde":         "cabo verde",
	"east timor":         "timor-leste",
	"swaziland":          "eswatini",
	"macedonia":          "north macedonia",
	"vatican":            "vatican city",
	"vatican city state": "vatican city",
}

// DefaultExcluded lists city-states and micro-states that are too small to
// click on a world map, so they are never part of a round.
var DefaultExcluded = []string{
	"vatican city",
	"monaco",
	"san marino",
	"liechtenstein",
	"andorra",
	"singapore",
	"malta",
	"luxembourg",
	"bahrain",
	"maldives",
	"barbados",
	"saint lucia",
	"grenada",
	"saint vincent and the grenadines",
	"antigua and barbuda",
	"dominica",
	"saint kitts and nevis",
	"marshall islands",
	"palau",
	"nauru",
	"tuvalu",
	"micronesia",
	"kiribati",
	"tonga",
	"samoa",
	"seychelles",
	"comoros",
	"mauritius",
	"cape verde",
	"são tomé and príncipe",
}
