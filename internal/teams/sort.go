package teams

import "sort"

func sortTeams(ts []Team) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}

func sortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].TeamID != ms[j].TeamID {
			return ms[i].TeamID < ms[j].TeamID
		}
		return ms[i].UserID < ms[j].UserID
	})
}

func sortStrings(s []string) { sort.Strings(s) }
