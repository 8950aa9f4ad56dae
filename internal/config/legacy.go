package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/bryanowens-dev/walker/internal/core"
)

// resolveDogs normalizes the dog roster before unmarshaling. Three
// sources are recognized, in order:
//
//  1. DOGS as a JSON array (the env form): `[{"name":...,"email":...,"credential":...}]`
//  2. dogs as a structured list in the config file
//  3. legacy single-dog envs DOG_NAME / DOG_EMAIL with the forge token
//     as credential
func resolveDogs(v *viper.Viper) error {
	switch raw := v.Get("dogs").(type) {
	case nil:
		// Not set anywhere; try legacy below.
	case string:
		if strings.TrimSpace(raw) == "" {
			break
		}
		roster, err := ParseDogsJSON(raw)
		if err != nil {
			return err
		}
		v.Set("dogs", rosterToMaps(roster))
		return nil
	default:
		// Structured list from a config file; mapstructure handles it.
		return nil
	}

	if dog, ok := legacySingleDog(v); ok {
		v.Set("dogs", rosterToMaps(core.Roster{dog}))
	}
	return nil
}

// ParseDogsJSON decodes the DOGS environment value.
func ParseDogsJSON(raw string) (core.Roster, error) {
	var roster core.Roster
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&roster); err != nil {
		return nil, fmt.Errorf("parsing DOGS: expected a JSON array of {name, email, credential}: %w", err)
	}
	return roster, nil
}

// legacySingleDog reconstructs a one-dog roster from the pre-roster
// environment variables. Recognized only when DOG_NAME is set.
func legacySingleDog(v *viper.Viper) (core.Dog, bool) {
	name := firstEnv("WALKER_DOG_NAME", "DOG_NAME")
	if name == "" {
		return core.Dog{}, false
	}
	return core.Dog{
		Name:       name,
		Email:      firstEnv("WALKER_DOG_EMAIL", "DOG_EMAIL"),
		Credential: v.GetString("forge.token"),
	}, true
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

// rosterToMaps converts dogs to the generic shape viper stores, so a
// later Unmarshal decodes them uniformly with file-sourced rosters.
func rosterToMaps(roster core.Roster) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(roster))
	for _, d := range roster {
		out = append(out, map[string]interface{}{
			"name":       d.Name,
			"email":      d.Email,
			"credential": d.Credential,
		})
	}
	return out
}
