package blocklist

// seedDomains is a small snapshot of well-known burner providers, enough
// to make lookups useful before the first remote refresh lands.
var seedDomains = []string{
	"temp-mail.org",
	"10minutemail.com",
	"guerrillamail.com",
	"mailinator.com",
	"yopmail.com",
	"throwawaymail.com",
	"tempmail.net",
	"sharklasers.com",
	"dispostable.com",
	"getnada.com",
	"maildrop.cc",
	"trashmail.com",
	"fakeinbox.com",
	"mintemail.com",
	"spamgourmet.com",
	"mytemp.email",
	"mohmal.com",
	"emailondeck.com",
}
