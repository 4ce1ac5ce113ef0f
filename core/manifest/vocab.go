package manifest

// Grants are the capability names an extension may request.
var Grants = []string{"music_list", "player", "internet"}

// Resources are the capability resources a contributes.resource group may
// declare.
var Resources = []string{
	"tipSearch",
	"hotSearch",
	"musicSearch",
	"musicPic",
	"musicLyric",
	"musicUrl",
	"musicPicSearch",
	"songlistSearch",
	"songlist",
	"leaderboard",
	"albumSearch",
	"album",
	"singerSearch",
	"singer",
	"lyricSearch",
	"lyricDetail",
}

// IconExtensions lists the accepted icon file extensions, lower case.
var IconExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".svg"}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
