package ledger

// Score setting keys. All of them must be initialized before the ledger runs.
const (
	KeyQualifyingCap         = "qev.trx.cap"
	KeyIndividualPointsCap   = "i.trx.max"
	KeyOrganizationPointsCap = "org.trx.max"
	KeyWindowCap             = "htry.trx.max"
	KeyBatchSize             = "batchsize"
	KeyRegenMultiplier       = "regen.mul"
	KeyLocalMultiplier       = "local.mul"
	KeyRegenFloor            = "regen.min"
	KeyVoteMaxAdd            = "rgen.maxadd"
	KeyVoteMaxSub            = "rgen.minsub"
	KeyRegenMinPlanted       = "rgen.minplnt"
	KeyRegenMinRank          = "rgen.minrank"
	KeyRegenMinReferrals     = "rgen.refrred"
	KeyRegenMinResidentRefs  = "rgen.resref"
	KeyTxPointsMaxQuantity   = "txp.maxqty"
	KeyTxPointsMaxPerSender  = "txp.maxtrx"
	KeyTxPointsRecordLimit   = "txp.limit"
	KeyTxPointsDecayCycles   = "txp.cycles"
	KeyMoonCycle             = "moon.cycle"
	KeyTxPointsPruneDecayed  = "txp.prune"
)

// Size counter ids.
const (
	SizeResidents   = "residents.sz"
	SizeCitizens    = "citizens.sz"
	SizeReputables  = "reptables.sz"
	SizeRegens      = "regens.sz"
	SizeRegenScores = "regen.score.sz"
	SizeTxScores    = "tx.score.sz"
	SizeCbScores    = "cb.score.sz"
)

// VotesSizeID is the counter of votes cast for one organization.
func VotesSizeID(org string) string { return "votes." + org }
