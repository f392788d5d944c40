// Package studybot manages per-user state for a productivity assistant that
// bridges a Discord identity with a school-records provider.
//
// The library has three layers:
//   - providers: stateless clients for the two identity providers
//     (providers/discord, providers/digreg)
//   - storage: the durable UserAccount aggregate and its targeted update
//     operations (storage/memory, storage/sqlite)
//   - Service: the token lifecycle coordinator, which produces valid access
//     tokens, transparently refreshing and persisting when stored tokens go
//     stale, and merging partial refresh responses without clearing fields
//     the provider omitted
//
// Construct the provider clients and a store once at process initialization
// and pass them to New:
//
//	store := memory.New()
//	dc, _ := discord.New(&discord.Config{ClientID: id, ClientSecret: secret, BotToken: bot})
//	dg, _ := digreg.New(&digreg.Config{ClientID: id, ClientSecret: secret})
//
//	svc, _ := studybot.New(studybot.Config{}, store, dc, dg)
//	svc.SetWelcomeNotifier(dc)
//
//	token, err := svc.ValidToken(ctx, discordID, studybot.KindSecondary)
package studybot
